package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoded(t *testing.T) {
	err := NewCoded(CodePlannerUnknownObject, "object %q is not registered", "GL_BALANCE")
	require.Error(t, err)
	assert.Equal(t, `ERR_PLANNER_UNKNOWN_OBJECT: object "GL_BALANCE" is not registered`, err.Error())

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodePlannerUnknownObject, code)
}

func TestCodeSurvivesWrapping(t *testing.T) {
	base := NewCoded(CodePlannerBadOptions, "includeModules[0] is empty")
	wrapped := Wrap(base, "failed to plan run")
	doubly := fmt.Errorf("cli: %w", wrapped)

	assert.True(t, HasCode(doubly, CodePlannerBadOptions))
	assert.False(t, HasCode(doubly, CodeGraphCycle))

	code, ok := CodeOf(doubly)
	require.True(t, ok)
	assert.Equal(t, CodePlannerBadOptions, code)
}

func TestWithCode(t *testing.T) {
	assert.Nil(t, WithCode(nil, CodePhaseFatal))

	cause := New("connection refused")
	err := WithCode(cause, CodePhaseFatal)
	assert.True(t, Is(err, cause))
	assert.True(t, HasCode(err, CodePhaseFatal))
}

func TestCodeOfUncoded(t *testing.T) {
	_, ok := CodeOf(New("plain"))
	assert.False(t, ok)
	_, ok = CodeOf(nil)
	assert.False(t, ok)
}

func TestCodesAreClosedSet(t *testing.T) {
	codes := Codes()
	require.Len(t, codes, 7)
	for _, c := range codes {
		assert.True(t, c.Valid(), c)
		assert.NotEqual(t, "unknown error", c.Message(), c)
	}
	assert.False(t, Code("ERR_SOMETHING_ELSE").Valid())
	assert.Equal(t, "unknown error", Code("ERR_SOMETHING_ELSE").Message())
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(Wrap(ErrNotFound, "run abc")))
	assert.False(t, IsNotFoundError(New("boom")))
	assert.False(t, IsNotFoundError(nil))
}
