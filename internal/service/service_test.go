package service

import (
	"context"
	"sync"
	"testing"

	"viplinks/internal/config"
	"viplinks/internal/delivery"
	"viplinks/internal/infrastructure/crypto"
	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/model"
	"viplinks/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Delivery.ImmediateAttempt = true
	return cfg
}

func testSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	s, err := crypto.NewSealer(testKeyHex)
	require.NoError(t, err)
	return s
}

// recordingDispatcher 记录立即发货请求
type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingDispatcher) ProcessOne(_ context.Context, id string) (delivery.Disposition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return delivery.DispositionCompleted, nil
}

func (r *recordingDispatcher) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type scriptedSession struct {
	dialer *scriptedDialer
}

func (s *scriptedSession) Execute(_ context.Context, cmd string) (string, error) {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	s.dialer.commands = append(s.dialer.commands, cmd)
	return "", nil
}

func (s *scriptedSession) Close() error { return nil }

type scriptedDialer struct {
	mu       sync.Mutex
	dialErr  error
	secrets  []string
	commands []string
}

func (d *scriptedDialer) Dial(_ context.Context, server rcon.ServerConnection) (rcon.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.secrets = append(d.secrets, server.Secret)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &scriptedSession{dialer: d}, nil
}

type catalog struct {
	server  *model.GameServer
	gaming  *model.Product
	digital *model.Product
}

func seedCatalog(t *testing.T, db *gorm.DB, sealer *crypto.Sealer) *catalog {
	t.Helper()
	ctx := context.Background()

	server, err := NewServerService(db, sealer, nil).Register(ctx, "seller-1", &RegisterServerRequest{
		Name:         "Rust EU",
		Host:         "127.0.0.1",
		RconPort:     28016,
		RconPassword: "hunter2",
	})
	require.NoError(t, err)

	products := repository.NewProductRepository(db)
	gaming := &model.Product{
		SellerID:         "seller-1",
		Name:             "VIP Gold",
		Type:             model.ProductTypeGaming,
		Price:            1500,
		GameServerID:     &server.ID,
		DeliveryCommands: []string{"oxide.usergroup add {steamid} vip", "say welcome {username}"},
	}
	require.NoError(t, products.Create(ctx, gaming))

	digital := &model.Product{
		SellerID: "seller-1",
		Name:     "Discord role",
		Type:     model.ProductTypeDigital,
		Price:    500,
	}
	require.NoError(t, products.Create(ctx, digital))

	return &catalog{server: server, gaming: gaming, digital: digital}
}

func createSale(t *testing.T, db *gorm.DB, requestID, paymentID string, productID int64) *model.Sale {
	t.Helper()
	sale, err := NewSaleService(db).CreateSale(context.Background(), &CreateSaleRequest{
		RequestID:     requestID,
		PaymentID:     paymentID,
		ProductID:     productID,
		BuyerSteamID:  "76561198000000001",
		BuyerUsername: "alice",
	})
	require.NoError(t, err)
	return sale
}

func paymentNotification(id string) *PaymentNotification {
	n := &PaymentNotification{Type: "payment"}
	n.Data.ID = id
	return n
}
