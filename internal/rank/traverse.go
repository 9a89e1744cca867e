package rank

import "context"

// censusBatchSize bounds how many frontier identifiers are resolved per
// storage round trip while walking a network.
const censusBatchSize = 50

// ChildFetcher returns the direct referrals of every user in parents.
type ChildFetcher func(ctx context.Context, parents []string) ([]string, error)

// CountNetwork walks the sponsor tree below root breadth-first and returns
// the number of transitive referrals, excluding root itself.
//
// The sponsor relation is a forest under correct operation, so the seen-set
// is never needed for counting; it is there so the walk terminates and stays
// correct if a cycle ever slips into the data.
func CountNetwork(ctx context.Context, root string, fetch ChildFetcher) (int, error) {
	seen := map[string]struct{}{root: {}}
	frontier := []string{root}
	count := 0

	for len(frontier) > 0 {
		batch := frontier
		if len(batch) > censusBatchSize {
			batch = batch[:censusBatchSize]
		}
		frontier = frontier[len(batch):]

		children, err := fetch(ctx, batch)
		if err != nil {
			return 0, err
		}
		for _, id := range children {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			frontier = append(frontier, id)
			count++
		}
	}
	return count, nil
}
