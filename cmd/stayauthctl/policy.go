package main

import (
	"github.com/MrEthical07/stayAuth/permission"
)

// Permissions served by the bundled role table. Applications embedding the engine
// register their own.
var permissionNames = []string{
	"reservation.read",
	"reservation.write",
	"folio.read",
	"folio.close",
	"room.status",
	"report.night_audit",
	"staff.manage",
}

// propertyAdminLevel bypasses tenant isolation (chain-level administrators).
const propertyAdminLevel = 9

func defaultPolicy() (*permission.Policy, error) {
	reg := permission.NewRegistry(false)
	reg.MustRegister(permissionNames...)
	reg.Freeze()

	p := permission.NewPolicy(reg, propertyAdminLevel)
	grants := map[string][]string{
		"guest":          {"reservation.read", "folio.read"},
		"housekeeping":   {"room.status"},
		"front_desk":     {"reservation.read", "reservation.write", "folio.read", "folio.close", "room.status"},
		"night_audit":    {"reservation.read", "folio.read", "folio.close", "report.night_audit"},
		"property_admin": permissionNames,
	}
	for role, perms := range grants {
		if err := p.Grant(role, perms...); err != nil {
			return nil, err
		}
	}
	if err := p.GrantAdmin(propertyAdminLevel, permissionNames...); err != nil {
		return nil, err
	}
	p.Freeze()
	return p, nil
}
