package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// MemoryStore はメモリ上のStore実装です。ローカル実行とテストで使用します
// トランザクションはストア全体の排他ロックで直列化し、作業用コピーをコミット時に反映します
type MemoryStore struct {
	mu     sync.RWMutex
	tickMu sync.Mutex
	st     *memState
}

// NewMemoryStore は空のMemoryStoreを作成します
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	reservations  map[int64]model.Reservation
	histories     []model.ReservationHistory
	rooms         map[int64]model.Room
	packages      map[int64]model.FuneralPackage
	items         map[int64]model.InventoryItem
	movements     []model.StockMovement
	resItems      []model.ReservationInventoryItem
	pets          map[int64]string
	notifications []model.NotificationRecord
	seq           map[string]int64
}

func newMemState() *memState {
	return &memState{
		reservations: map[int64]model.Reservation{},
		rooms:        map[int64]model.Room{},
		packages:     map[int64]model.FuneralPackage{},
		items:        map[int64]model.InventoryItem{},
		pets:         map[int64]string{},
		seq:          map[string]int64{},
	}
}

func (m *memState) clone() *memState {
	c := &memState{
		reservations:  make(map[int64]model.Reservation, len(m.reservations)),
		histories:     append([]model.ReservationHistory(nil), m.histories...),
		rooms:         make(map[int64]model.Room, len(m.rooms)),
		packages:      make(map[int64]model.FuneralPackage, len(m.packages)),
		items:         make(map[int64]model.InventoryItem, len(m.items)),
		movements:     append([]model.StockMovement(nil), m.movements...),
		resItems:      append([]model.ReservationInventoryItem(nil), m.resItems...),
		pets:          make(map[int64]string, len(m.pets)),
		notifications: append([]model.NotificationRecord(nil), m.notifications...),
		seq:           make(map[string]int64, len(m.seq)),
	}
	for k, v := range m.reservations {
		c.reservations[k] = v
	}
	for k, v := range m.rooms {
		c.rooms[k] = v
	}
	for k, v := range m.packages {
		c.packages[k] = v
	}
	for k, v := range m.items {
		c.items[k] = v
	}
	for k, v := range m.pets {
		c.pets[k] = v
	}
	for k, v := range m.seq {
		c.seq[k] = v
	}
	return c
}

func (m *memState) nextID(table string, id int64) int64 {
	if id > m.seq[table] {
		m.seq[table] = id
		return id
	}
	if id != 0 {
		return id
	}
	m.seq[table]++
	return m.seq[table]
}

// 以下、テストやローカル実行向けの初期データ投入です

// AddRoom は部屋を登録し、IDを返します
func (s *MemoryStore) AddRoom(room model.Room) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ID = s.st.nextID("rooms", room.ID)
	if room.CurrentStatus == "" {
		room.CurrentStatus = model.RoomStatusAvailable
	}
	s.st.rooms[room.ID] = room
	return room.ID
}

// AddPackage は葬儀パッケージを登録し、IDを返します
func (s *MemoryStore) AddPackage(pkg model.FuneralPackage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg.ID = s.st.nextID("packages", pkg.ID)
	s.st.packages[pkg.ID] = pkg
	return pkg.ID
}

// AddInventoryItem は在庫品目を登録し、IDを返します
func (s *MemoryStore) AddInventoryItem(item model.InventoryItem) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.st.nextID("items", item.ID)
	s.st.items[item.ID] = item
	return item.ID
}

// AddPet はペット名を登録します
func (s *MemoryStore) AddPet(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.pets[id] = name
}

// PutReservation は予約をそのまま保存し、IDを返します。遷移規則は検証しません
func (s *MemoryStore) PutReservation(r model.Reservation) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.st.nextID("reservations", r.ID)
	s.st.reservations[r.ID] = r
	return r.ID
}

// PutReservationItem は予約の使用品目を登録し、IDを返します
func (s *MemoryStore) PutReservationItem(item model.ReservationInventoryItem) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.st.nextID("reservation_items", item.ID)
	s.st.resItems = append(s.st.resItems, item)
	return item.ID
}

// WithTx はストア全体をロックしてfnを実行します
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{memState: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.memState
	return nil
}

// AcquireTickLock はプロセス内のロックを取得します
func (s *MemoryStore) AcquireTickLock(ctx context.Context) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !s.tickMu.TryLock() {
		return nil, false, nil
	}
	return s.tickMu.Unlock, true, nil
}

func (s *MemoryStore) read() (*memState, func()) {
	s.mu.RLock()
	return s.st, s.mu.RUnlock
}

func (s *MemoryStore) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	st, unlock := s.read()
	defer unlock()
	return st.GetReservation(ctx, id)
}

func (s *MemoryStore) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListReservations(ctx, f)
}

func (s *MemoryStore) ListActiveReservationsByRoom(ctx context.Context, roomID int64, from, to time.Time) ([]model.Reservation, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListActiveReservationsByRoom(ctx, roomID, from, to)
}

func (s *MemoryStore) ListReservationIDsByStatus(ctx context.Context, status model.ReservationStatus, scheduledBefore time.Time) ([]int64, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListReservationIDsByStatus(ctx, status, scheduledBefore)
}

func (s *MemoryStore) ListHistory(ctx context.Context, reservationID int64) ([]model.ReservationHistory, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListHistory(ctx, reservationID)
}

func (s *MemoryStore) GetRoom(ctx context.Context, id int64) (*model.Room, error) {
	st, unlock := s.read()
	defer unlock()
	return st.GetRoom(ctx, id)
}

func (s *MemoryStore) ListRooms(ctx context.Context, activeOnly bool) ([]model.Room, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListRooms(ctx, activeOnly)
}

func (s *MemoryStore) ListBookedRoomIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListBookedRoomIDs(ctx, from, to)
}

func (s *MemoryStore) GetPackage(ctx context.Context, id int64) (*model.FuneralPackage, error) {
	st, unlock := s.read()
	defer unlock()
	return st.GetPackage(ctx, id)
}

func (s *MemoryStore) GetInventoryItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	st, unlock := s.read()
	defer unlock()
	return st.GetInventoryItem(ctx, id)
}

func (s *MemoryStore) ListLowStockItems(ctx context.Context) ([]model.InventoryItem, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListLowStockItems(ctx)
}

func (s *MemoryStore) ListStockMovements(ctx context.Context, itemID int64) ([]model.StockMovement, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListStockMovements(ctx, itemID)
}

func (s *MemoryStore) ListReservationItems(ctx context.Context, reservationID int64) ([]model.ReservationInventoryItem, error) {
	st, unlock := s.read()
	defer unlock()
	return st.ListReservationItems(ctx, reservationID)
}

// GetNameByID はペット名を返します。PetRepositoryを満たします
func (s *MemoryStore) GetNameByID(_ context.Context, petID int64) (string, error) {
	st, unlock := s.read()
	defer unlock()
	name, ok := st.pets[petID]
	if !ok {
		return "", &model.NotFoundError{Entity: "pet", ID: petID}
	}
	return name, nil
}

// CreateNotifications は通知レコードを保存します。NotificationRepositoryを満たします
func (s *MemoryStore) CreateNotifications(_ context.Context, records []model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		rec.ID = s.st.nextID("notifications", 0)
		s.st.notifications = append(s.st.notifications, rec)
	}
	return nil
}

// GetByCustomerID は顧客の通知を新しい順に返します
func (s *MemoryStore) GetByCustomerID(_ context.Context, customerID int64) ([]model.NotificationRecord, error) {
	st, unlock := s.read()
	defer unlock()
	var out []model.NotificationRecord
	for i := len(st.notifications) - 1; i >= 0; i-- {
		if st.notifications[i].CustomerID == customerID {
			out = append(out, st.notifications[i])
		}
	}
	return out, nil
}

// MarkAsRead は通知を既読にします
func (s *MemoryStore) MarkAsRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.notifications {
		if s.st.notifications[i].ID == id {
			s.st.notifications[i].IsRead = true
			return nil
		}
	}
	return &model.NotFoundError{Entity: "notification", ID: id}
}

// memState の読み取りクエリ

func (m *memState) GetReservation(_ context.Context, id int64) (*model.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "reservation", ID: id}
	}
	return &r, nil
}

func (m *memState) ListReservations(_ context.Context, f ReservationFilter) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range m.reservations {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.StaffID != nil && (r.AssignedStaffID == nil || *r.AssignedStaffID != *f.StaffID) {
			continue
		}
		if f.IsEmergency != nil && r.IsEmergency != *f.IsEmergency {
			continue
		}
		if f.RoomID != nil && (r.RoomID == nil || *r.RoomID != *f.RoomID) {
			continue
		}
		if f.ScheduledFrom != nil && (r.ScheduledAt == nil || r.ScheduledAt.Before(*f.ScheduledFrom)) {
			continue
		}
		if f.ScheduledTo != nil && (r.ScheduledAt == nil || !r.ScheduledAt.Before(*f.ScheduledTo)) {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ScheduledAt, out[j].ScheduledAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].ID > out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memState) ListActiveReservationsByRoom(_ context.Context, roomID int64, from, to time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range m.reservations {
		if r.RoomID == nil || *r.RoomID != roomID || r.Status.IsTerminal() {
			continue
		}
		start, end, ok := r.Window()
		if !ok || !start.Before(to) || !end.After(from) {
			continue
		}
		out = append(out, r)
	}
	sortByScheduledAsc(out)
	return out, nil
}

func (m *memState) ListReservationIDsByStatus(_ context.Context, status model.ReservationStatus, scheduledBefore time.Time) ([]int64, error) {
	var ids []int64
	for _, r := range m.reservations {
		if r.Status != status || r.ScheduledAt == nil || r.ScheduledAt.After(scheduledBefore) {
			continue
		}
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memState) ListHistory(_ context.Context, reservationID int64) ([]model.ReservationHistory, error) {
	var out []model.ReservationHistory
	for _, h := range m.histories {
		if h.ReservationID == reservationID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memState) GetRoom(_ context.Context, id int64) (*model.Room, error) {
	room, ok := m.rooms[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "room", ID: id}
	}
	return &room, nil
}

func (m *memState) ListRooms(_ context.Context, activeOnly bool) ([]model.Room, error) {
	var out []model.Room
	for _, room := range m.rooms {
		if activeOnly && !room.IsActive {
			continue
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memState) ListBookedRoomIDs(_ context.Context, from, to time.Time) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, r := range m.reservations {
		if r.RoomID == nil || r.ScheduledAt == nil || r.Status.IsTerminal() {
			continue
		}
		if r.ScheduledAt.Before(from) || !r.ScheduledAt.Before(to) || seen[*r.RoomID] {
			continue
		}
		seen[*r.RoomID] = true
		ids = append(ids, *r.RoomID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memState) GetPackage(_ context.Context, id int64) (*model.FuneralPackage, error) {
	pkg, ok := m.packages[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "package", ID: id}
	}
	return &pkg, nil
}

func (m *memState) GetInventoryItem(_ context.Context, id int64) (*model.InventoryItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "inventory_item", ID: id}
	}
	return &item, nil
}

func (m *memState) ListLowStockItems(_ context.Context) ([]model.InventoryItem, error) {
	var out []model.InventoryItem
	for _, item := range m.items {
		if item.IsLow() {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := out[i].CurrentStock - out[i].MinimumStock
		dj := out[j].CurrentStock - out[j].MinimumStock
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) ListStockMovements(_ context.Context, itemID int64) ([]model.StockMovement, error) {
	var out []model.StockMovement
	for _, mv := range m.movements {
		if mv.ItemID == itemID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memState) ListReservationItems(_ context.Context, reservationID int64) ([]model.ReservationInventoryItem, error) {
	var out []model.ReservationInventoryItem
	for _, it := range m.resItems {
		if it.ReservationID == reservationID {
			out = append(out, it)
		}
	}
	return out, nil
}

func sortByScheduledAsc(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i].ScheduledAt, rs[j].ScheduledAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return rs[i].ID < rs[j].ID
	})
}

// memTx はMemoryStoreのトランザクションです
// ストアの排他ロック下で作業用コピーを操作するため、行ロックは不要です
type memTx struct {
	*memState
}

func (t *memTx) LockReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	return t.GetReservation(ctx, id)
}

func (t *memTx) LockReservations(_ context.Context, ids []int64) ([]model.Reservation, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []model.Reservation
	var prev int64
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if r, ok := t.reservations[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) LockRoom(ctx context.Context, id int64) (*model.Room, error) {
	return t.GetRoom(ctx, id)
}

func (t *memTx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if r.RoomID != nil {
		if _, ok := t.rooms[*r.RoomID]; !ok {
			return &model.ValidationError{Field: "room_id", Message: "referenced record does not exist"}
		}
	}
	if r.PackageID != nil {
		if _, ok := t.packages[*r.PackageID]; !ok {
			return &model.ValidationError{Field: "package_id", Message: "referenced record does not exist"}
		}
	}
	r.ID = t.nextID("reservations", 0)
	t.reservations[r.ID] = *r
	return nil
}

func (t *memTx) UpdateReservation(_ context.Context, r *model.Reservation) error {
	cur, ok := t.reservations[r.ID]
	if !ok {
		return &model.NotFoundError{Entity: "reservation", ID: r.ID}
	}
	cur.RoomID = r.RoomID
	cur.ScheduledAt = r.ScheduledAt
	cur.Status = r.Status
	cur.AssignedStaffID = r.AssignedStaffID
	cur.Memo = r.Memo
	cur.CancelledAt = r.CancelledAt
	cur.CancelReason = r.CancelReason
	cur.CancelNotes = r.CancelNotes
	cur.PenaltyAmount = r.PenaltyAmount
	cur.RefundAmount = r.RefundAmount
	cur.RefundStatus = r.RefundStatus
	cur.UpdatedAt = r.UpdatedAt
	t.reservations[r.ID] = cur
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h *model.ReservationHistory) error {
	h.ID = t.nextID("histories", 0)
	t.histories = append(t.histories, *h)
	return nil
}

func (t *memTx) AddReservationItem(_ context.Context, item *model.ReservationInventoryItem) error {
	if item.Quantity <= 0 {
		return &model.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if _, ok := t.items[item.ItemID]; !ok {
		return &model.ValidationError{Field: "item_id", Message: "referenced record does not exist"}
	}
	item.ID = t.nextID("reservation_items", 0)
	t.resItems = append(t.resItems, *item)
	return nil
}

func (t *memTx) MarkReservationItemConsumed(_ context.Context, id int64, at time.Time) error {
	for i := range t.resItems {
		if t.resItems[i].ID == id && t.resItems[i].ConsumedAt == nil {
			consumed := at
			t.resItems[i].ConsumedAt = &consumed
			return nil
		}
	}
	return &model.NotFoundError{Entity: "reservation_inventory_item", ID: id}
}

func (t *memTx) AdjustStock(_ context.Context, itemID int64, delta int, at time.Time) (*model.InventoryItem, error) {
	item, ok := t.items[itemID]
	if !ok {
		return nil, &model.NotFoundError{Entity: "inventory_item", ID: itemID}
	}
	item.CurrentStock += delta
	item.UpdatedAt = at
	t.items[itemID] = item
	return &item, nil
}

func (t *memTx) CreateStockMovement(_ context.Context, m *model.StockMovement) error {
	if _, ok := t.items[m.ItemID]; !ok {
		return &model.ValidationError{Field: "item_id", Message: "referenced record does not exist"}
	}
	m.ID = t.nextID("movements", 0)
	t.movements = append(t.movements, *m)
	return nil
}

func (t *memTx) UpdateRoomStatus(_ context.Context, roomID int64, status model.RoomStatus, at time.Time) error {
	room, ok := t.rooms[roomID]
	if !ok {
		return &model.NotFoundError{Entity: "room", ID: roomID}
	}
	room.CurrentStatus = status
	room.UpdatedAt = at
	t.rooms[roomID] = room
	return nil
}

// Savepoint は作業用コピーのスナップショットを取り、失敗時に復元します
func (t *memTx) Savepoint(_ context.Context, _ string, fn func() error) error {
	snapshot := t.memState.clone()
	if err := fn(); err != nil {
		t.memState = snapshot
		return err
	}
	return nil
}

var (
	_ Store                  = (*MemoryStore)(nil)
	_ Tx                     = (*memTx)(nil)
	_ PetRepository          = (*MemoryStore)(nil)
	_ NotificationRepository = (*MemoryStore)(nil)
)
