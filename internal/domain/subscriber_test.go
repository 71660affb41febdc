package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "42", want: "42"},
		{raw: "  1234567890 ", want: "1234567890"},
		{raw: "", wantErr: true},
		{raw: "   ", wantErr: true},
		{raw: "-42", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "4 2", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseIdentity(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("ParseIdentity(%q) error = %v, want ErrInvalidIdentity", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIdentity(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIdentity(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLapsedIsInclusive(t *testing.T) {
	expiry := time.Unix(2000, 0)
	rec := Subscriber{Identity: "1", ExpiresAt: expiry, Status: SubscriberStatusActive}

	if rec.Lapsed(expiry.Add(-time.Second)) {
		t.Error("record lapsed before expiry")
	}
	if !rec.Lapsed(expiry) {
		t.Error("record not lapsed at exact expiry")
	}
	if rec.Expired(expiry).Lapsed(expiry.Add(time.Hour)) {
		t.Error("expired record reported as lapsed")
	}
}

func TestRenewedAndExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	rec := Renewed("42", now, 30*24*time.Hour)

	if rec.ExpiresAt.Unix() != 1000+2592000 {
		t.Errorf("ExpiresAt = %d, want %d", rec.ExpiresAt.Unix(), 1000+2592000)
	}
	if !rec.IsActive() || rec.ExpiredAt != nil {
		t.Errorf("renewed record = %+v, want active without ExpiredAt", rec)
	}

	later := now.Add(time.Hour)
	expired := rec.Expired(later)
	if expired.Status != SubscriberStatusExpired || expired.ExpiredAt == nil || !expired.ExpiredAt.Equal(later) {
		t.Errorf("expired record = %+v", expired)
	}
	if !rec.IsActive() {
		t.Error("Expired mutated the receiver")
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection reset")

	lifecycleErr := fmt.Errorf("confirm: %w", NewLifecycleError("issue grant", "42", ErrGrantIssuance, cause))
	if !errors.Is(lifecycleErr, ErrGrantIssuance) {
		t.Error("LifecycleError does not match its kind")
	}
	if !errors.Is(lifecycleErr, cause) {
		t.Error("LifecycleError does not unwrap to its cause")
	}
	if errors.Is(lifecycleErr, ErrStore) {
		t.Error("LifecycleError matches an unrelated kind")
	}

	storeErr := NewStoreError("upsert", "42", cause)
	if !errors.Is(storeErr, ErrStore) || !errors.Is(storeErr, cause) {
		t.Error("StoreError does not match ErrStore and its cause")
	}

	extErr := NewExternalServiceError("telegram", "400", "Bad Request", 400, cause)
	if !errors.Is(extErr, ErrExternalServiceUnavailable) {
		t.Error("ExternalServiceError does not match ErrExternalServiceUnavailable")
	}
}
