package cache

import "fmt"

func deepHistKey(depot string, streamID, fromTx, toTx int) string {
	return fmt.Sprintf("deephist:%s:%d:%d:%d", depot, streamID, fromTx, toTx)
}

// GetDeepHist returns a memoized deep_hist(depot, stream, [fromTx,toTx])
// result, if one was recorded.
func (c *Cache) GetDeepHist(depot string, streamID, fromTx, toTx int) ([]int, bool, error) {
	var txs []int
	ok, err := c.GetJSON(deepHistKey(depot, streamID, fromTx, toTx), &txs)
	return txs, ok, err
}

// PutDeepHist memoizes a deep_hist result.
func (c *Cache) PutDeepHist(depot string, streamID, fromTx, toTx int, txs []int) error {
	return c.PutJSON(deepHistKey(depot, streamID, fromTx, toTx), txs)
}
