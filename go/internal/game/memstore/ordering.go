package memstore

import (
	"sort"
	"time"

	"github.com/mcdev12/fingerbutton/go/internal/models"
)

// SortByEliminationDesc orders players most recently eliminated first.
// Ties fall back to the later joiner, then the lower fid.
func SortByEliminationDesc(players []*models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if at, bt := eliminatedAt(a), eliminatedAt(b); !at.Equal(bt) {
			return at.After(bt)
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.After(b.JoinedAt)
		}
		return a.FID < b.FID
	})
}

// SortForDisplay orders by placement ascending (unplaced last), then
// eliminated_at descending with survivors first, then join order.
func SortForDisplay(players []*models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		switch {
		case a.Placement != nil && b.Placement != nil:
			if *a.Placement != *b.Placement {
				return *a.Placement < *b.Placement
			}
		case a.Placement != nil:
			return true
		case b.Placement != nil:
			return false
		}
		switch {
		case a.EliminatedAt == nil && b.EliminatedAt != nil:
			return true
		case a.EliminatedAt != nil && b.EliminatedAt == nil:
			return false
		case a.EliminatedAt != nil && !a.EliminatedAt.Equal(*b.EliminatedAt):
			return a.EliminatedAt.After(*b.EliminatedAt)
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.FID < b.FID
	})
}

func eliminatedAt(p *models.Player) time.Time {
	if p.EliminatedAt != nil {
		return *p.EliminatedAt
	}
	return time.Time{}
}
