package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuthExpired},
		{403, KindAuthExpired},
		{429, KindRateLimited},
		{500, KindNetwork},
		{503, KindNetwork},
		{400, KindInvalid},
		{404, KindInvalid},
		{200, KindOther},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(RateLimited("op", errors.New("429"))) {
		t.Error("rate limit should be transient")
	}
	if !IsTransient(NetworkError("op", errors.New("timeout"))) {
		t.Error("network failure should be transient")
	}
	if IsTransient(AuthExpired("op", errors.New("401"))) {
		t.Error("auth failure must not be retried")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("unclassified errors must not be retried")
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	inner := RateLimited("youtube.post", errors.New("429"))
	wrapped := fmt.Errorf("posting content: %w", inner)

	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("KindOf(wrapped) = %s, want rate_limited", got)
	}
	if !IsTransient(wrapped) {
		t.Error("wrapping must not hide transience")
	}
	if KindOf(errors.New("plain")) != KindOther {
		t.Error("plain errors classify as other")
	}
}
