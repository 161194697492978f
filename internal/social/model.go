package social

import "time"

// Follow is a directional subscription from follower to followee.
type Follow struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	FollowerEmail string    `gorm:"column:follower_email;size:120;not null;uniqueIndex:idx_follow_pair,priority:1"`
	FolloweeEmail string    `gorm:"column:followee_email;size:120;not null;uniqueIndex:idx_follow_pair,priority:2;index"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing follow edges.
func (Follow) TableName() string {
	return "forum_follows"
}

// Block is recorded in one direction but hides both parties from each other.
type Block struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	BlockerEmail string    `gorm:"column:blocker_email;size:120;not null;uniqueIndex:idx_block_pair,priority:1"`
	BlockedEmail string    `gorm:"column:blocked_email;size:120;not null;uniqueIndex:idx_block_pair,priority:2;index"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing blocks.
func (Block) TableName() string {
	return "user_blocks"
}
