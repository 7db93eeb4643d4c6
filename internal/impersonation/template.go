package impersonation

// Default snapshot template applied to every new session. The template is
// global today; it takes the tenant ID so a per-tenant catalog can slot in
// later without changing the issuer.

// DefaultPermissions returns the permission snapshot for a new session.
func DefaultPermissions(tenantID string) []Permission {
	return []Permission{
		{Action: "view", Resource: "bookings", Allowed: true},
		{Action: "view", Resource: "customers", Allowed: true},
		{Action: "view", Resource: "tables", Allowed: true},
		{Action: "view", Resource: "settings", Allowed: true},
		{Action: "create", Resource: "bookings", Allowed: true},
		{Action: "update", Resource: "bookings", Allowed: true},
		{Action: "update", Resource: "tables", Allowed: true},
		{Action: "export", Resource: "bookings", Allowed: true},
		{Action: "delete", Resource: "bookings", Allowed: false, Reason: "Requires manager approval"},
		{Action: "view", Resource: "financials", Allowed: false, Reason: "Financial data is excluded from support access"},
		{Action: "update", Resource: "settings", Allowed: false, Reason: "Tenant settings are read-only during support sessions"},
	}
}

// DefaultRestrictions returns the restriction snapshot for a new session.
// maxMinutes is the effective session duration in minutes.
func DefaultRestrictions(tenantID string, maxMinutes int64) []Restriction {
	return []Restriction{
		{
			Type:        RestrictionTimeLimit,
			Description: "Session ends automatically at the expiry deadline",
			Value:       maxMinutes,
			Active:      true,
		},
		{
			Type:        RestrictionActionLimit,
			Description: "At most 500 guarded actions per session",
			Value:       500,
			Active:      true,
		},
		{
			Type:        RestrictionResourceLimit,
			Description: "Cannot access financial data",
			Resource:    "financials",
			Active:      true,
		},
		{
			Type:        RestrictionApprovalRequired,
			Description: "Deletions require an approval token",
			Resource:    "delete",
			Active:      true,
		},
	}
}
