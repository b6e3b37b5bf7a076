package service

import (
	"sort"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

// ReservationInput is everything the calculator needs for one donor and one target class.
// Batch holds the donor codes eligible for new reservation, in consumption order.
type ReservationInput struct {
	Surplus     int
	Populations []models.ParallelPopulation
	Existing    map[string]int
	Batch       []models.Code
}

// ParallelAllocation is the slice of the batch granted to one parallel label.
type ParallelAllocation struct {
	Label string
	Share int
	Delta int
	Codes []models.Code
}

// ReservationPlan is the calculator output. Leftover counts batch codes that stay in the donor pool.
type ReservationPlan struct {
	Shares      map[string]int
	Allocations []ParallelAllocation
	Leftover    int
}

// ProportionalShares returns floor(surplus * population / total) for every label with a positive population.
func ProportionalShares(surplus int, populations []models.ParallelPopulation) map[string]int {
	shares := make(map[string]int, len(populations))
	if surplus <= 0 {
		return shares
	}
	total := 0
	for _, p := range populations {
		if p.Population > 0 {
			total += p.Population
		}
	}
	if total == 0 {
		return shares
	}
	for _, p := range populations {
		if p.Population <= 0 {
			continue
		}
		shares[p.Label] += surplus * p.Population / total
	}
	return shares
}

// CalculateReservation splits the batch across parallels in lexicographic label order.
// Each label receives its proportional share minus what it already holds, and the walk
// stops as soon as the batch runs out.
func CalculateReservation(in ReservationInput) ReservationPlan {
	shares := ProportionalShares(in.Surplus, in.Populations)
	plan := ReservationPlan{Shares: shares, Leftover: len(in.Batch)}
	if len(shares) == 0 {
		return plan
	}

	labels := make([]string, 0, len(shares))
	for label := range shares {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	cursor := 0
	for _, label := range labels {
		if cursor >= len(in.Batch) {
			break
		}
		delta := shares[label] - in.Existing[label]
		if delta <= 0 {
			continue
		}
		take := delta
		if remaining := len(in.Batch) - cursor; take > remaining {
			take = remaining
		}
		plan.Allocations = append(plan.Allocations, ParallelAllocation{
			Label: label,
			Share: shares[label],
			Delta: delta,
			Codes: in.Batch[cursor : cursor+take],
		})
		cursor += take
	}
	plan.Leftover = len(in.Batch) - cursor
	return plan
}
