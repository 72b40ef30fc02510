package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"
)

// memStore はテスト用のインメモリDB。
// WithinTxはfnがエラーを返したら状態を丸ごと戻す。
type memStore struct {
	mu sync.Mutex

	nextID     int64
	products   map[int64]model.Product
	orders     map[int64]model.Order
	orderItems map[int64][]model.OrderItem
	carts      map[int64]model.Cart
	cartItems  map[int64][]model.CartItem
	wallets    map[int64]model.Wallet
	entries    []model.WalletTransaction
	txns       map[int64]model.Transaction
	processed  map[string]bool
	audits     []model.AuditLog

	// 次のOrders().CreateでErrDuplicateを返す回数
	orderNumberCollisions int
	txCount               int
	// 別リクエストが並行してコミットする注文。次のOrders().Createの直前に現れ、
	// そのトランザクションがロールバックしても残る
	racingOrders []model.Order
	landed       []model.Order
}

func newMemStore() *memStore {
	return &memStore{
		products:   map[int64]model.Product{},
		orders:     map[int64]model.Order{},
		orderItems: map[int64][]model.OrderItem{},
		carts:      map[int64]model.Cart{},
		cartItems:  map[int64][]model.CartItem{},
		wallets:    map[int64]model.Wallet{},
		txns:       map[int64]model.Transaction{},
		processed:  map[string]bool{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memSnapshot struct {
	nextID     int64
	products   map[int64]model.Product
	orders     map[int64]model.Order
	orderItems map[int64][]model.OrderItem
	carts      map[int64]model.Cart
	cartItems  map[int64][]model.CartItem
	wallets    map[int64]model.Wallet
	entries    []model.WalletTransaction
	txns       map[int64]model.Transaction
	processed  map[string]bool
	audits     []model.AuditLog
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](m map[K][]V) map[K][]V {
	out := make(map[K][]V, len(m))
	for k, v := range m {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		nextID:     s.nextID,
		products:   cloneMap(s.products),
		orders:     cloneMap(s.orders),
		orderItems: cloneSliceMap(s.orderItems),
		carts:      cloneMap(s.carts),
		cartItems:  cloneSliceMap(s.cartItems),
		wallets:    cloneMap(s.wallets),
		entries:    append([]model.WalletTransaction(nil), s.entries...),
		txns:       cloneMap(s.txns),
		processed:  cloneMap(s.processed),
		audits:     append([]model.AuditLog(nil), s.audits...),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.nextID = snap.nextID
	s.products = snap.products
	s.orders = snap.orders
	s.orderItems = snap.orderItems
	s.carts = snap.carts
	s.cartItems = snap.cartItems
	s.wallets = snap.wallets
	s.entries = snap.entries
	s.txns = snap.txns
	s.processed = snap.processed
	s.audits = snap.audits
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	snap := s.snapshot()
	defer func() { s.landed = nil }()
	if err := fn(memRepos{s}); err != nil {
		s.restore(snap)
		for _, o := range s.landed {
			s.orders[o.ID] = o
			if o.ID > s.nextID {
				s.nextID = o.ID
			}
		}
		return err
	}
	return nil
}

// --- fixtures ---

func (s *memStore) addProduct(name string, price, stock int64) model.Product {
	p := model.Product{ID: s.id(), Name: name, Price: price, Stock: stock, IsActive: true}
	s.products[p.ID] = p
	return p
}

func (s *memStore) addWallet(userID, balance int64) model.Wallet {
	w := model.Wallet{ID: s.id(), UserID: userID, Balance: balance, Currency: "VND", Status: model.WalletStatusActive}
	s.wallets[w.ID] = w
	return w
}

func (s *memStore) walletOf(userID int64) model.Wallet {
	for _, w := range s.wallets {
		if w.UserID == userID {
			return w
		}
	}
	return model.Wallet{}
}

func (s *memStore) entriesOf(userID int64, typ model.WalletTransactionType) []model.WalletTransaction {
	var out []model.WalletTransaction
	for _, e := range s.entries {
		if e.UserID == userID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type memRepos struct{ s *memStore }

func (r memRepos) Orders() repo.OrderRepository                   { return memOrders{r.s} }
func (r memRepos) OrderItems() repo.OrderItemRepository           { return memOrderItems{r.s} }
func (r memRepos) Products() repo.ProductRepository               { return memProducts{r.s} }
func (r memRepos) Stock() repo.StockRepository                    { return memProducts{r.s} }
func (r memRepos) Carts() repo.CartRepository                     { return memCarts{r.s} }
func (r memRepos) Wallets() repo.WalletRepository                 { return memWallets{r.s} }
func (r memRepos) Transactions() repo.TransactionRepository       { return memTxns{r.s} }
func (r memRepos) ProcessedEvents() repo.ProcessedEventRepository { return memProcessed{r.s} }
func (r memRepos) AuditLogs() repo.AuditLogRepository             { return memAudits{r.s} }

// --- orders ---

type memOrders struct{ s *memStore }

func (m memOrders) Create(ctx context.Context, o *model.Order) error {
	for _, r := range m.s.racingOrders {
		r.ID = m.s.id()
		m.s.orders[r.ID] = r
		m.s.landed = append(m.s.landed, r)
	}
	m.s.racingOrders = nil
	if o.IdempotencyKey != "" {
		for _, existing := range m.s.orders {
			if existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
				return repo.ErrIdempotencyKeyTaken
			}
		}
	}
	if m.s.orderNumberCollisions > 0 {
		m.s.orderNumberCollisions--
		return repo.ErrDuplicate
	}
	for _, existing := range m.s.orders {
		if existing.OrderNumber == o.OrderNumber {
			return repo.ErrDuplicate
		}
	}
	o.ID = m.s.id()
	o.CreatedAt = time.Now()
	stored := *o
	stored.Items = nil
	m.s.orders[o.ID] = stored
	return nil
}

func (m memOrders) FindByID(ctx context.Context, id int64) (model.Order, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (m memOrders) FindByPaymentReference(ctx context.Context, ref string) (model.Order, error) {
	for _, o := range m.s.orders {
		if o.PaymentReference == ref {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (m memOrders) sorted(keep func(model.Order) bool) []model.Order {
	var out []model.Order
	for _, o := range m.s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func page[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (m memOrders) ListByUserID(ctx context.Context, userID int64, p int, limit int) ([]model.Order, int64, error) {
	all := m.sorted(func(o model.Order) bool { return o.UserID == userID })
	return page(all, p, limit), int64(len(all)), nil
}

func (m memOrders) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range m.s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m memOrders) Search(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	all := m.sorted(func(o model.Order) bool {
		if f.Status != "" && string(o.Status) != f.Status {
			return false
		}
		if f.PaymentStatus != "" && string(o.PaymentStatus) != f.PaymentStatus {
			return false
		}
		if f.PaymentMethod != "" && string(o.PaymentMethod) != f.PaymentMethod {
			return false
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			return false
		}
		if f.Q != "" && !strings.Contains(o.OrderNumber, f.Q) {
			return false
		}
		return true
	})
	return page(all, f.Page, f.Limit), int64(len(all)), nil
}

func (m memOrders) UpdateStatus(ctx context.Context, id int64, version int64, c repo.OrderStatusChange) error {
	o, ok := m.s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	if o.Version != version {
		return repo.ErrConflict
	}
	o.Status = c.Status
	if c.CancelReason != nil {
		o.CancelReason = *c.CancelReason
	}
	if c.ConfirmedAt != nil {
		o.ConfirmedAt = c.ConfirmedAt
	}
	if c.ShippedAt != nil {
		o.ShippedAt = c.ShippedAt
	}
	if c.DeliveredAt != nil {
		o.DeliveredAt = c.DeliveredAt
	}
	if c.CompletedAt != nil {
		o.CompletedAt = c.CompletedAt
	}
	if c.CancelledAt != nil {
		o.CancelledAt = c.CancelledAt
	}
	if c.PaymentStatus != nil {
		o.PaymentStatus = *c.PaymentStatus
	}
	o.Version++
	m.s.orders[id] = o
	return nil
}

func (m memOrders) UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, externalRef string) (bool, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if o.PaymentStatus == status {
		return false, nil
	}
	o.PaymentStatus = status
	if externalRef != "" {
		o.ExternalTxnRef = externalRef
	}
	m.s.orders[id] = o
	return true, nil
}

func (m memOrders) SetPaymentReference(ctx context.Context, id int64, reference string, externalRef string) error {
	o, ok := m.s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	o.PaymentReference = reference
	o.ExternalTxnRef = externalRef
	m.s.orders[id] = o
	return nil
}

func (m memOrders) SetShipmentCode(ctx context.Context, id int64, code string) error {
	o, ok := m.s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	if o.ShipmentCode != "" {
		return repo.ErrConflict
	}
	o.ShipmentCode = code
	m.s.orders[id] = o
	return nil
}

func (m memOrders) ListForShipmentSync(ctx context.Context, limit int) ([]model.Order, error) {
	return m.sorted(func(o model.Order) bool {
		return o.ShipmentCode != "" && (o.Status == model.OrderStatusConfirmed ||
			o.Status == model.OrderStatusProcessing || o.Status == model.OrderStatusShipping)
	}), nil
}

func (m memOrders) Stats(ctx context.Context, from *time.Time, to *time.Time) (repo.OrderStats, error) {
	st := repo.OrderStats{ByStatus: map[model.OrderStatus]int64{}}
	for _, o := range m.s.orders {
		st.TotalOrders++
		st.ByStatus[o.Status]++
		switch o.PaymentStatus {
		case model.PaymentStatusPaid:
			st.PaidRevenue += o.Total
		case model.PaymentStatusPending:
			st.PendingAmount += o.Total
		}
	}
	return st, nil
}

// --- order items ---

type memOrderItems struct{ s *memStore }

func (m memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for i := range items {
		items[i].ID = m.s.id()
		items[i].OrderID = orderID
	}
	m.s.orderItems[orderID] = append(m.s.orderItems[orderID], items...)
	return nil
}

func (m memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return append([]model.OrderItem{}, m.s.orderItems[orderID]...), nil
}

// --- products / stock ---

type memProducts struct{ s *memStore }

func (m memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := m.s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (m memProducts) ClearCategory(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	for id, p := range m.s.products {
		if p.CategoryID != nil && *p.CategoryID == categoryID {
			p.CategoryID = nil
			m.s.products[id] = p
			n++
		}
	}
	return n, nil
}

func (m memProducts) ClearBrand(ctx context.Context, brandID int64) (int64, error) {
	var n int64
	for id, p := range m.s.products {
		if p.BrandID != nil && *p.BrandID == brandID {
			p.BrandID = nil
			m.s.products[id] = p
			n++
		}
	}
	return n, nil
}

func (m memProducts) DecreaseStockIfEnough(ctx context.Context, id int64, qty int64) (bool, error) {
	p, ok := m.s.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	p.SoldCount += qty
	m.s.products[id] = p
	return true, nil
}

func (m memProducts) IncreaseStock(ctx context.Context, id int64, qty int64) error {
	p, ok := m.s.products[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	p.SoldCount -= qty
	if p.SoldCount < 0 {
		p.SoldCount = 0
	}
	m.s.products[id] = p
	return nil
}

// --- carts ---

type memCarts struct{ s *memStore }

func (m memCarts) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	for _, c := range m.s.carts {
		if c.UserID == userID && c.Status == model.CartStatusActive {
			return c, nil
		}
	}
	return model.Cart{}, repo.ErrNotFound
}

func (m memCarts) ListItems(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	return append([]model.CartItem{}, m.s.cartItems[cartID]...), nil
}

func (m memCarts) RemoveQuantities(ctx context.Context, cartID int64, q map[int64]int64) error {
	var kept []model.CartItem
	for _, it := range m.s.cartItems[cartID] {
		it.Quantity -= q[it.ProductID]
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	m.s.cartItems[cartID] = kept
	return nil
}

// --- wallets ---

type memWallets struct{ s *memStore }

func (m memWallets) FindByUserID(ctx context.Context, userID int64) (model.Wallet, error) {
	for _, w := range m.s.wallets {
		if w.UserID == userID {
			return w, nil
		}
	}
	return model.Wallet{}, repo.ErrNotFound
}

func (m memWallets) FindByUserIDForUpdate(ctx context.Context, userID int64) (model.Wallet, error) {
	return m.FindByUserID(ctx, userID)
}

func (m memWallets) Create(ctx context.Context, w *model.Wallet) error {
	if _, err := m.FindByUserID(ctx, w.UserID); err == nil {
		return repo.ErrDuplicate
	}
	w.ID = m.s.id()
	m.s.wallets[w.ID] = *w
	return nil
}

func (m memWallets) ApplyDelta(ctx context.Context, walletID int64, d repo.WalletDelta) (bool, error) {
	w, ok := m.s.wallets[walletID]
	if !ok || w.Balance+d.Balance < 0 {
		return false, nil
	}
	w.Balance += d.Balance
	w.TotalDeposited += d.Deposited
	w.TotalWithdrawn += d.Withdrawn
	w.TotalSpent += d.Spent
	m.s.wallets[walletID] = w
	return true, nil
}

func (m memWallets) CreateEntry(ctx context.Context, e *model.WalletTransaction) error {
	e.ID = m.s.id()
	m.s.entries = append(m.s.entries, *e)
	return nil
}

func (m memWallets) FindEntryByReference(ctx context.Context, walletID int64, typ model.WalletTransactionType, ref string) (model.WalletTransaction, bool, error) {
	for _, e := range m.s.entries {
		if e.WalletID == walletID && e.Type == typ && e.Reference == ref && e.Status == model.WalletTxStatusCompleted {
			return e, true, nil
		}
	}
	return model.WalletTransaction{}, false, nil
}

func (m memWallets) ListEntries(ctx context.Context, walletID int64, limit int, offset int) ([]model.WalletTransaction, int64, error) {
	var all []model.WalletTransaction
	for i := len(m.s.entries) - 1; i >= 0; i-- {
		if m.s.entries[i].WalletID == walletID {
			all = append(all, m.s.entries[i])
		}
	}
	return page(all, offset/limit+1, limit), int64(len(all)), nil
}

// --- gateway transactions ---

type memTxns struct{ s *memStore }

func (m memTxns) Create(ctx context.Context, t *model.Transaction) error {
	for _, existing := range m.s.txns {
		if existing.Provider == t.Provider && existing.ExternalID == t.ExternalID {
			return repo.ErrDuplicate
		}
	}
	t.ID = m.s.id()
	m.s.txns[t.ID] = *t
	return nil
}

func (m memTxns) FindByID(ctx context.Context, id int64) (model.Transaction, error) {
	t, ok := m.s.txns[id]
	if !ok {
		return model.Transaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (m memTxns) sorted(keep func(model.Transaction) bool) []model.Transaction {
	out := []model.Transaction{}
	for _, t := range m.s.txns {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memTxns) FindByOrderID(ctx context.Context, orderID int64) ([]model.Transaction, error) {
	return m.sorted(func(t model.Transaction) bool { return t.OrderID == orderID }), nil
}

func (m memTxns) FindByUserID(ctx context.Context, userID int64, limit int, offset int) ([]model.Transaction, int64, error) {
	all := m.sorted(func(t model.Transaction) bool { return t.UserID == userID })
	return page(all, offset/limit+1, limit), int64(len(all)), nil
}

func (m memTxns) FindByExternalID(ctx context.Context, provider model.PaymentMethodCode, externalID string) (model.Transaction, error) {
	for _, t := range m.s.txns {
		if t.Provider == provider && t.ExternalID == externalID {
			return t, nil
		}
	}
	return model.Transaction{}, repo.ErrNotFound
}

func (m memTxns) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	t, ok := m.s.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			t.Status = v.(model.TransactionStatus)
		case "paid_at":
			at := v.(time.Time)
			t.PaidAt = &at
		}
	}
	m.s.txns[id] = t
	return nil
}

// --- processed events / audit ---

type memProcessed struct{ s *memStore }

func (m memProcessed) TryMark(ctx context.Context, key string) (bool, error) {
	if m.s.processed[key] {
		return false, nil
	}
	m.s.processed[key] = true
	return true, nil
}

type memAudits struct{ s *memStore }

func (m memAudits) Create(ctx context.Context, l model.AuditLog) error {
	l.ID = m.s.id()
	m.s.audits = append(m.s.audits, l)
	return nil
}

func (m memAudits) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, int64, error) {
	var out []model.AuditLog
	for i := len(m.s.audits) - 1; i >= 0; i-- {
		l := m.s.audits[i]
		if l.ResourceType == f.ResourceType && l.ResourceID == f.ResourceID {
			out = append(out, l)
		}
	}
	return page(out, f.Offset/f.Limit+1, f.Limit), int64(len(out)), nil
}
