package redisx

import "time"

const (
	// idem:order:create:{external_id} -> order id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order_status:{order_id} -> StatusEntry as JSON
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	ChannelOrders = "live:orders"
	ChannelStock  = "live:stock"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
