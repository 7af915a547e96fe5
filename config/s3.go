package config

// S3Config addresses the report bucket on S3 or an S3 compatible endpoint.
type S3Config struct {
	BucketName   string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"accessKey"`
	SecretKey    string `mapstructure:"secretKey"`
	UsePathStyle bool   `mapstructure:"usePathStyle"`
}
