// Package sampler draws a stratified sample of articles: an equal quota per
// outlet, spread evenly over publication time within each outlet.
package sampler

import (
	"sort"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
)

// Partitions groups candidates by outlet, each partition ordered by
// publication time ascending. Articles without a timestamp sort first; ties
// break on ID.
func Partitions(candidates []article.Article) map[string][]article.Article {
	parts := make(map[string][]article.Article)
	for _, c := range candidates {
		parts[c.Medium] = append(parts[c.Medium], c)
	}
	for _, p := range parts {
		sort.SliceStable(p, func(i, j int) bool {
			return publishedBefore(p[i], p[j])
		})
	}
	return parts
}

func publishedBefore(a, b article.Article) bool {
	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		return a.ID < b.ID
	case a.PublishedAt == nil:
		return true
	case b.PublishedAt == nil:
		return false
	case a.PublishedAt.Equal(*b.PublishedAt):
		return a.ID < b.ID
	default:
		return a.PublishedAt.Before(*b.PublishedAt)
	}
}

// Quota is the per-partition share of target: ceil(target / partitions).
func Quota(target, partitions int) int {
	if target <= 0 || partitions <= 0 {
		return 0
	}
	return (target + partitions - 1) / partitions
}

// StrideIndices returns the k positions floor(i*n/k) for i in [0, k). When
// k >= n every position is returned.
func StrideIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k >= n {
		k = n
	}
	out := make([]int, k)
	for i := range k {
		out[i] = i * n / k
	}
	return out
}

// Plan computes the selected positions per outlet without materializing
// articles.
func Plan(sizes map[string]int, target int) map[string][]int {
	nonEmpty := 0
	for _, n := range sizes {
		if n > 0 {
			nonEmpty++
		}
	}
	quota := Quota(target, nonEmpty)
	plan := make(map[string][]int, nonEmpty)
	for medium, n := range sizes {
		if idx := StrideIndices(n, quota); len(idx) > 0 {
			plan[medium] = idx
		}
	}
	return plan
}

// Sample returns at most ceil(target/outlets) articles per outlet, grouped
// by outlet in lexical order and time-ordered within each outlet.
func Sample(candidates []article.Article, target int) []article.Article {
	parts := Partitions(candidates)
	sizes := make(map[string]int, len(parts))
	for medium, p := range parts {
		sizes[medium] = len(p)
	}
	plan := Plan(sizes, target)

	media := make([]string, 0, len(plan))
	for medium := range plan {
		media = append(media, medium)
	}
	sort.Strings(media)

	var out []article.Article
	for _, medium := range media {
		part := parts[medium]
		for _, idx := range plan[medium] {
			out = append(out, part[idx])
		}
	}
	return out
}
