package config

// MinioConfig addresses the report bucket on MinIO.
type MinioConfig struct {
	AccessKey  string `mapstructure:"accessKey"`
	SecretKey  string `mapstructure:"secretKey"`
	Endpoint   string `mapstructure:"endpoint"`
	UseSSL     bool   `mapstructure:"useSSL"`
	Region     string `mapstructure:"region"`
	BucketName string `mapstructure:"bucket"`
}
