package injector

import (
	"reflect"
	"testing"
)

func TestClassifyRemoteThread(t *testing.T) {
	const loader = 0x7FF812340000
	cases := []struct {
		name   string
		start  uintptr
		loader uintptr
		want   CallKind
	}{
		{"loader", loader, loader, LoaderRedirect},
		{"other routine", loader + 1, loader, PassThrough},
		{"null start", 0, loader, PassThrough},
		{"unresolved loader", 0, 0, PassThrough},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call := RemoteThreadCall{StartAddress: tc.start, Parameter: 0x1234}
			if got := classifyRemoteThread(call, tc.loader); got != tc.want {
				t.Fatalf("classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRemoteThreadArgsUnchanged(t *testing.T) {
	call := RemoteThreadCall{
		Process:          0x10,
		ThreadAttributes: 0x20,
		StackSize:        0x30,
		StartAddress:     0x40,
		Parameter:        0x50,
		CreationFlags:    0x60,
		ThreadID:         0x70,
	}
	want := []uintptr{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70}
	if got := call.args(); !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %#v, want %#v", got, want)
	}
}

func TestProcessCreateArgsForceSuspended(t *testing.T) {
	call := ProcessCreateCall{
		ApplicationName:    1,
		CommandLine:        2,
		ProcessAttributes:  3,
		ThreadAttributes:   4,
		InheritHandles:     5,
		CreationFlags:      0x10,
		Environment:        7,
		CurrentDirectory:   8,
		StartupInfo:        9,
		ProcessInformation: 10,
	}
	native := call.nativeArgs()
	forced := call.args()
	if len(native) != 10 || len(forced) != 10 {
		t.Fatalf("expected 10 arguments, got %d and %d", len(native), len(forced))
	}
	for i := range native {
		if i == 5 {
			continue
		}
		if native[i] != forced[i] {
			t.Fatalf("argument %d changed: %#x -> %#x", i, native[i], forced[i])
		}
	}
	if native[5] != 0x10 {
		t.Fatalf("native flags = %#x", native[5])
	}
	if forced[5] != 0x10|createSuspended {
		t.Fatalf("forced flags = %#x", forced[5])
	}
}

func TestResumeOwnership(t *testing.T) {
	if callerOwnsResume(0) {
		t.Fatalf("caller without CREATE_SUSPENDED must not own resume")
	}
	if !callerOwnsResume(createSuspended | 0x10) {
		t.Fatalf("caller with CREATE_SUSPENDED owns resume")
	}
	if forceSuspended(0x10) != 0x14 {
		t.Fatalf("forceSuspended(0x10) = %#x", forceSuspended(0x10))
	}
	if forceSuspended(createSuspended) != createSuspended {
		t.Fatalf("forceSuspended must be idempotent")
	}
}

func TestCallKindString(t *testing.T) {
	if PassThrough.String() != "pass-through" || LoaderRedirect.String() != "loader-redirect" {
		t.Fatalf("unexpected names %q %q", PassThrough, LoaderRedirect)
	}
}
