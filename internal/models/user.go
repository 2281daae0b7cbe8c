package models

// User status values.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// User is the subset of the account record the regeneration sweeps select on.
type User struct {
	ID                  string `db:"id"`
	Status              string `db:"status"`
	OnboardingCompleted bool   `db:"onboarding_completed"`
}
