package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix    = "user:%d"
	ProductKeyPrefix = "product:%d"
)

const (
	UserTTL    = 5 * time.Minute
	ProductTTL = 10 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func ProductKey(productID uint) string {
	return fmt.Sprintf(ProductKeyPrefix, productID)
}

// Invalidate deletes key; a nil client is a no-op.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

func InvalidateProduct(ctx context.Context, productID uint) {
	Invalidate(ctx, ProductKey(productID))
}
