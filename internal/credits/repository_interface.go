package credits

import "context"

type WalletReader interface {
	ListActive(ctx context.Context, userID int) ([]Wallet, error)
	ListDueForExpiry(ctx context.Context) ([]ExpiredLot, error)
	ListExpiringWithin(ctx context.Context, days int) ([]ExpiringWallet, error)
}
