package verifier

import (
	"errors"
	"fmt"
)

// Reason classifies why a request was not authenticated or authorized.
type Reason string

// Verification reasons. The gate adds its own on top.
const (
	ReasonMalformed        Reason = "malformed"
	ReasonUnknownKey       Reason = "unknown_key"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonExpired          Reason = "expired"
	ReasonNotYetValid      Reason = "not_yet_valid"
	ReasonUntrustedIssuer  Reason = "untrusted_issuer"
	ReasonAudienceMismatch Reason = "audience_mismatch"
)

// Rejection is the error returned for every token the verifier refuses.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("token rejected: %s", r.Reason)
	}
	return fmt.Sprintf("token rejected: %s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Is matches any Rejection with the same reason, so the sentinels below work
// with errors.Is.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrMalformed        = &Rejection{Reason: ReasonMalformed}
	ErrUnknownKey       = &Rejection{Reason: ReasonUnknownKey}
	ErrBadSignature     = &Rejection{Reason: ReasonBadSignature}
	ErrExpired          = &Rejection{Reason: ReasonExpired}
	ErrNotYetValid      = &Rejection{Reason: ReasonNotYetValid}
	ErrUntrustedIssuer  = &Rejection{Reason: ReasonUntrustedIssuer}
	ErrAudienceMismatch = &Rejection{Reason: ReasonAudienceMismatch}
)

func reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason from err. Errors that are not
// rejections report as malformed.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ReasonMalformed
}
