package models

import "testing"

func TestValidateRole(t *testing.T) {
	if err := ValidateRole(RoleAdmin); err != nil {
		t.Errorf("admin: %v", err)
	}
	if err := ValidateRole(RoleUser); err != nil {
		t.Errorf("user: %v", err)
	}
	if err := ValidateRole("superadmin"); err == nil {
		t.Error("unknown role accepted")
	}
	if err := ValidateRole(""); err == nil {
		t.Error("empty role accepted")
	}
}

func TestHasSelected(t *testing.T) {
	u := &InternalUser{SelectedFolders: []string{"f1", "f2"}}
	if !u.HasSelected("f1") {
		t.Error("f1 should be selected")
	}
	if u.HasSelected("f3") {
		t.Error("f3 should not be selected")
	}
	if (&InternalUser{}).HasSelected("f1") {
		t.Error("empty selection should match nothing")
	}
}

func TestGrantIsApproved(t *testing.T) {
	g := &DeviceGrant{State: GrantStatePending}
	if g.IsApproved() {
		t.Error("pending grant reads as approved")
	}
	g.State = GrantStateApproved
	if !g.IsApproved() {
		t.Error("approved grant reads as unapproved")
	}
}
