package domain

// SubscriptionPatch lists owner-editable fields. Nil fields are left unchanged.
type SubscriptionPatch struct {
	URL         *string
	EventFilter StringList
	Secret      *string
	Active      *bool
}

// Empty reports whether the patch changes nothing.
func (p SubscriptionPatch) Empty() bool {
	return p.URL == nil && p.EventFilter == nil && p.Secret == nil && p.Active == nil
}
