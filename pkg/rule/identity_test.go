package rule

import "testing"

func TestFullSigningID(t *testing.T) {
	tests := []struct {
		name string
		id   BinaryIdentity
		want string
	}{
		{
			name: "developer signed",
			id:   BinaryIdentity{SigningID: "com.example.app", TeamID: "EQHXZ8M8AV"},
			want: "EQHXZ8M8AV:com.example.app",
		},
		{
			name: "platform binary",
			id:   BinaryIdentity{SigningID: "com.apple.ls", IsPlatformBinary: true},
			want: "platform:com.apple.ls",
		},
		{
			name: "unsigned",
			id:   BinaryIdentity{},
			want: "",
		},
		{
			name: "signing id without team or platform",
			id:   BinaryIdentity{SigningID: "com.example.app"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.FullSigningID(); got != tt.want {
				t.Errorf("FullSigningID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentifierFor(t *testing.T) {
	id := BinaryIdentity{
		ContentHash:       testSHA256,
		CodeDirectoryHash: testCDHash,
		SigningID:         "com.example.app",
		TeamID:            "EQHXZ8M8AV",
		CertificateHash:   testSHA256,
	}
	tests := []struct {
		ruleType Type
		want     string
	}{
		{TypeCDHash, testCDHash},
		{TypeBinary, testSHA256},
		{TypeSigningID, "EQHXZ8M8AV:com.example.app"},
		{TypeCEL, "EQHXZ8M8AV:com.example.app"},
		{TypeCertificate, testSHA256},
		{TypeTeamID, "EQHXZ8M8AV"},
	}
	for _, tt := range tests {
		got, ok := id.IdentifierFor(tt.ruleType)
		if !ok || got != tt.want {
			t.Errorf("IdentifierFor(%v) = (%q, %v), want (%q, true)", tt.ruleType, got, ok, tt.want)
		}
	}

	unsigned := BinaryIdentity{ContentHash: testSHA256}
	for _, rt := range []Type{TypeCDHash, TypeSigningID, TypeCertificate, TypeTeamID} {
		if _, ok := unsigned.IdentifierFor(rt); ok {
			t.Errorf("unsigned identity should have no %v identifier", rt)
		}
	}
}

func TestIsCriticalSystemPath(t *testing.T) {
	if !IsCriticalSystemPath("/sbin/launchd") {
		t.Error("/sbin/launchd should be critical")
	}
	if IsCriticalSystemPath("/usr/local/bin/tool") {
		t.Error("arbitrary paths are not critical")
	}
}
