package utils_test

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

func TestKindOf(t *testing.T) {
	if got := utils.KindOf(utils.ValidationError("bad input", nil)); got != utils.ErrorKindValidation {
		t.Errorf("validation kind = %s", got)
	}
	if got := utils.KindOf(utils.NotFoundError("gone", nil)); got != utils.ErrorKindNotFound {
		t.Errorf("not found kind = %s", got)
	}
	if got := utils.KindOf(utils.ErrorRecordNotFound); got != utils.ErrorKindNotFound {
		t.Errorf("record-not-found sentinel kind = %s", got)
	}
	if got := utils.KindOf(errors.New("disk on fire")); got != utils.ErrorKindInternal {
		t.Errorf("plain error kind = %s", got)
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("outer: %w", utils.ValidationError("bad input", nil))
	if got := utils.KindOf(wrapped); got != utils.ErrorKindValidation {
		t.Errorf("wrapped kind = %s", got)
	}
}

func TestWrapErrorPreservesClassification(t *testing.T) {
	inner := utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": 7})
	wrapped := utils.WrapError(inner, "failed to complete audit session", map[string]any{"user_id": 3})

	if wrapped.Kind != utils.ErrorKindNotFound {
		t.Errorf("kind = %s, want not_found", wrapped.Kind)
	}
	if wrapped.Message != "audit session not found" {
		t.Errorf("message = %q, original message must survive", wrapped.Message)
	}
	if wrapped.Fields["audit_session_id"] != 7 || wrapped.Fields["user_id"] != 3 {
		t.Errorf("fields = %v, want both sets merged", wrapped.Fields)
	}

	cause := errors.New("driver: bad connection")
	internal := utils.WrapError(cause, "unable to load audit notes", nil)
	if internal.Kind != utils.ErrorKindInternal {
		t.Errorf("kind = %s, want internal", internal.Kind)
	}
	if !errors.Is(internal, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestUserMessage(t *testing.T) {
	if got := utils.UserMessage(utils.ValidationError("name cannot be empty", nil)); got != "name cannot be empty" {
		t.Errorf("validation message = %q", got)
	}
	got := utils.UserMessage(utils.InternalError(errors.New("dial tcp: refused"), "db down", nil))
	if got != "something went wrong, please try again later" {
		t.Errorf("internal message = %q, must not leak detail", got)
	}
}
