package metering

// DeletionPolicy selects how retention pruning removes usage records
type DeletionPolicy string

const (
	// DeletionPolicyHard removes rows from storage
	DeletionPolicyHard DeletionPolicy = "hard"
	// DeletionPolicyTombstone marks rows deleted and hides them from queries
	DeletionPolicyTombstone DeletionPolicy = "tombstone"
)

// IsValid returns true if the deletion policy is known
func (p DeletionPolicy) IsValid() bool {
	return p == DeletionPolicyHard || p == DeletionPolicyTombstone
}

// String returns the string representation of DeletionPolicy
func (p DeletionPolicy) String() string {
	return string(p)
}
