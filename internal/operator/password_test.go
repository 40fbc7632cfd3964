package operator

import "testing"

func TestPasswordHashAndVerify(t *testing.T) {
	salt, err := GenerateSaltHex()
	if err != nil {
		t.Fatalf("GenerateSaltHex: %v", err)
	}
	hash, err := HashPassword("p@ssw0rd", salt)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !VerifyPassword("p@ssw0rd", salt, hash) {
		t.Fatalf("expected verify ok")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Fatalf("expected verify fail")
	}
}

func TestRolesRoundTrip(t *testing.T) {
	if got := JoinRoles([]string{" staff ", "", "admin"}); got != "staff,admin" {
		t.Fatalf("unexpected join: %q", got)
	}
	o := Operator{Roles: "staff, ,admin,"}
	roles := o.RolesSlice()
	if len(roles) != 2 || roles[0] != "staff" || roles[1] != "admin" {
		t.Fatalf("unexpected roles: %#v", roles)
	}
	if (Operator{Roles: " "}).RolesSlice() != nil {
		t.Fatalf("expected nil for blank roles")
	}
}
