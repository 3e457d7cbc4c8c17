package orders

const (
	TopicOrderCreated = "order.created"
	TopicJobFailed    = "pipeline.job.failed"
)

// Partition key = order_id so events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
