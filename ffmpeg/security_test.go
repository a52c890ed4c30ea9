package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	args, err := SplitCommand(`"/opt/ffmpeg static/ffmpeg" -threads 2`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"/opt/ffmpeg static/ffmpeg", "-threads", "2"}, args)

	_, err = SplitCommand("   ")
	assert.Error(t, err)

	_, err = SplitCommand(`"unterminated`)
	assert.Error(t, err)
}

func TestValidateArgs(t *testing.T) {
	t.Run("Valid directives", func(t *testing.T) {
		err := ValidateArgs([]string{"-i", "input-x", "-filter:a", "volume=1.5", "-s", "1280x720", "-y", "output-x.mp4"})
		assert.NoError(t, err)
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		err := ValidateArgs([]string{"-s", "1280x720;ls"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: 1280x720;ls")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		err := ValidateArgs([]string{"-filter:a", "volume=$(id)"})
		assert.Error(t, err)
	})
}

func TestCheckName(t *testing.T) {
	assert.NoError(t, checkName("input-abc"))
	assert.Error(t, checkName("../etc/passwd"))
	assert.Error(t, checkName("a/b"))
	assert.Error(t, checkName(""))
	assert.Error(t, checkName(".."))
}
