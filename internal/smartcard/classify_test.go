package smartcard

import (
	"testing"

	"github.com/nerrad567/scardbridge/internal/irp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		code      irp.IoControlCode
		asyncMode bool
		want      Disposition
	}{
		{"establish context", irp.IoctlEstablishContext, true, DispositionSync},
		{"release context", irp.IoctlReleaseContext, true, DispositionSync},
		{"is valid context", irp.IoctlIsValidContext, true, DispositionSync},
		{"access started event", irp.IoctlAccessStartedEvent, true, DispositionSync},
		{"release started event", irp.IoctlReleaseStartedEvent, true, DispositionSync},
		{"transmit", irp.IoctlTransmit, true, DispositionAsync},
		{"status A", irp.IoctlStatusA, true, DispositionAsync},
		{"status W", irp.IoctlStatusW, true, DispositionAsync},
		{"get status change A", irp.IoctlGetStatusChangeA, true, DispositionAsync},
		{"get status change W", irp.IoctlGetStatusChangeW, true, DispositionAsync},
		{"connect defaults to async", irp.IoctlConnectW, true, DispositionAsync},
		{"list readers defaults to async", irp.IoctlListReadersA, true, DispositionAsync},
		{"transmit without async mode", irp.IoctlTransmit, false, DispositionSync},
		{"get status change without async mode", irp.IoctlGetStatusChangeW, false, DispositionSync},
		{"establish context without async mode", irp.IoctlEstablishContext, false, DispositionSync},
		{"zero code", 0, true, DispositionUnrecognized},
		{"zero code without async mode", 0, false, DispositionUnrecognized},
		{"unknown code defaults to async", irp.IoControlCode(0x00220000), true, DispositionAsync},
		{"unknown smart card function defaults to async", irp.IoControlCode(0x00090400), true, DispositionAsync},
		{"unknown code without async mode", irp.IoControlCode(0x00090400), false, DispositionSync},
		{"unknown device type without async mode", irp.IoControlCode(0x00220000), false, DispositionSync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.code, tt.asyncMode); got != tt.want {
				t.Errorf("Classify(%v, %v) = %v, want %v", tt.code, tt.asyncMode, got, tt.want)
			}
		})
	}
}

func TestDisposition_String(t *testing.T) {
	tests := []struct {
		d    Disposition
		want string
	}{
		{DispositionSync, "sync"},
		{DispositionAsync, "async"},
		{DispositionUnrecognized, "unrecognized"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		text, _ := tt.d.MarshalText()
		if string(text) != tt.want {
			t.Errorf("MarshalText() = %q, want %q", text, tt.want)
		}
	}
}
