package shared

import "sort"

// StockLockNamespace is the first key of the two-key advisory lock guarding a
// product's ledger for the duration of a unit of work.
const StockLockNamespace int32 = 7001

// StockLockKey builds the second advisory lock key for a product.
func StockLockKey(productID int64) int32 {
	return int32(productID % (1 << 31))
}

// StockLockKeys returns the distinct lock keys of productIDs in ascending key
// order. Products whose ids fold onto the same key share one lock.
func StockLockKeys(productIDs []int64) []int32 {
	seen := make(map[int32]struct{}, len(productIDs))
	keys := make([]int32, 0, len(productIDs))
	for _, id := range productIDs {
		k := StockLockKey(id)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
