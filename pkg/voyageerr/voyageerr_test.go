package voyageerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"invalid plan", New(InvalidPlan, "voy-1", "bad"), 1},
		{"not found", New(NotFound, "voy-1", "bad"), 2},
		{"ambiguous", New(AmbiguousVoyage, "", "bad"), 2},
		{"connect error", Wrap(ConnectError, "voy-1", "", errors.New("dial failed")), 3},
		{"provision failed", New(ProvisionFailed, "voy-1", "ship-0"), 3},
		{"untyped error", fmt.Errorf("plain"), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CLIExitCode(tc.err))
		})
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(ConnectError, "voy-1", "ship-0", cause)
	assert.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ConnectError, kind)
}

func TestKindOfNonVoyageError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestNextActionNamesConcreteCommand(t *testing.T) {
	cases := map[Kind]string{
		StorageProvisionFailed: "sink",
		ProvisionFailed:        "resume",
		NotFound:               "status",
		AmbiguousVoyage:        "voyage id",
		TaskParseError:         "reset-task",
	}
	for kind, substr := range cases {
		action := NextAction(kind)
		assert.NotEmpty(t, action)
		assert.Contains(t, action, substr)
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := Wrap(MountFailed, "voy-1", "ship-2", errors.New("no space"))
	msg := err.Error()
	assert.Contains(t, msg, "voy-1")
	assert.Contains(t, msg, "ship-2")
	assert.Contains(t, msg, "no space")
}
