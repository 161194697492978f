package social

import (
	"gorm.io/gorm"
)

// BlockExists reports whether either party has blocked the other.
func BlockExists(db *gorm.DB, first, second string) (bool, error) {
	var count int64
	err := db.Model(&Block{}).
		Where("(blocker_email = ? AND blocked_email = ?) OR (blocker_email = ? AND blocked_email = ?)", first, second, second, first).
		Count(&count).Error
	return count > 0, err
}

// HasBlocked reports whether blocker has blocked target.
func HasBlocked(db *gorm.DB, blocker, target string) (bool, error) {
	var count int64
	err := db.Model(&Block{}).
		Where("blocker_email = ? AND blocked_email = ?", blocker, target).
		Count(&count).Error
	return count > 0, err
}

// BlockedCounterparts lists every email in a block relation with viewer,
// whichever side created it.
func BlockedCounterparts(db *gorm.DB, viewer string) ([]string, error) {
	if viewer == "" {
		return nil, nil
	}
	var blocked []string
	if err := db.Model(&Block{}).Where("blocker_email = ?", viewer).Pluck("blocked_email", &blocked).Error; err != nil {
		return nil, err
	}
	var blockers []string
	if err := db.Model(&Block{}).Where("blocked_email = ?", viewer).Pluck("blocker_email", &blockers).Error; err != nil {
		return nil, err
	}
	return mergeUnique(blocked, blockers), nil
}

// Followers lists the emails following target.
func Followers(db *gorm.DB, target string) ([]string, error) {
	var followers []string
	err := db.Model(&Follow{}).Where("followee_email = ?", target).Order("created_at DESC").Pluck("follower_email", &followers).Error
	return followers, err
}

// Following lists the emails follower subscribes to.
func Following(db *gorm.DB, follower string) ([]string, error) {
	var followees []string
	err := db.Model(&Follow{}).Where("follower_email = ?", follower).Order("created_at DESC").Pluck("followee_email", &followees).Error
	return followees, err
}

func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, list := range lists {
		for _, value := range list {
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			merged = append(merged, value)
		}
	}
	return merged
}
