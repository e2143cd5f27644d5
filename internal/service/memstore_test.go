package service

import (
	"context"
	"sync"
	"time"

	"crowdprop/internal/domain"
	"crowdprop/internal/repository"

	"github.com/shopspring/decimal"
)

// memDB is an in-memory stand-in for the durable store. It reproduces the
// semantics the pgx repositories get from postgres: single-row atomicity,
// uniqueness constraints, and compare-and-set updates, all under one mutex.
type memDB struct {
	mu sync.Mutex

	nextID int64

	users       map[int64]*domain.User
	usersByCode map[string]int64

	wallets     map[int64]*domain.Wallet // keyed by user id
	walletsByID map[int64]*domain.Wallet

	txs map[int64]*domain.Transaction

	refs         map[int64]*domain.Referral
	refByReferee map[int64]int64
	refPairs     map[[2]int64]bool

	keys map[string]int64 // idempotency key -> bound tx id (0 while unbound)
}

func newMemDB() *memDB {
	return &memDB{
		users:        make(map[int64]*domain.User),
		usersByCode:  make(map[string]int64),
		wallets:      make(map[int64]*domain.Wallet),
		walletsByID:  make(map[int64]*domain.Wallet),
		txs:          make(map[int64]*domain.Transaction),
		refs:         make(map[int64]*domain.Referral),
		refByReferee: make(map[int64]int64),
		refPairs:     make(map[[2]int64]bool),
		keys:         make(map[string]int64),
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *memDB) addUser(currency domain.Currency, code string) *domain.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := &domain.User{
		ID:           db.id(),
		Currency:     currency,
		ReferralCode: code,
		CreatedAt:    time.Now(),
	}
	db.users[u.ID] = u
	if code != "" {
		db.usersByCode[code] = u.ID
	}
	return u
}

func copyUser(u *domain.User) *domain.User { c := *u; return &c }

func copyTx(t *domain.Transaction) *domain.Transaction { c := *t; return &c }

func copyRef(r *domain.Referral) *domain.Referral { c := *r; return &c }

// --- UserDirectory ---

type memUsers struct{ db *memDB }

func (m *memUsers) GetByID(_ context.Context, userID int64) (*domain.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) ResolveReferralCode(_ context.Context, code string) (*domain.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	id, ok := m.db.usersByCode[code]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(m.db.users[id]), nil
}

func (m *memUsers) GetOrCreateReferralCode(_ context.Context, userID int64) (string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[userID]
	if !ok {
		return "", repository.ErrUserNotFound
	}
	if u.ReferralCode == "" {
		u.ReferralCode = "code-" + decimal.NewFromInt(userID).String()
		m.db.usersByCode[u.ReferralCode] = userID
	}
	return u.ReferralCode, nil
}

func (m *memUsers) SetReferredBy(_ context.Context, userID, referrerID int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if u, ok := m.db.users[userID]; ok && u.ReferredBy == nil {
		id := referrerID
		u.ReferredBy = &id
	}
	return nil
}

func (m *memUsers) UpdateCurrency(_ context.Context, userID int64, c domain.Currency) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Currency = c
	return nil
}

func (m *memUsers) MarkApproved(_ context.Context, userID int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if u, ok := m.db.users[userID]; ok && u.ApprovedAt == nil {
		now := time.Now()
		u.ApprovedAt = &now
	}
	return nil
}

// --- WalletStore ---

type memWallets struct{ db *memDB }

func (m *memWallets) GetOrCreate(_ context.Context, userID int64) (*domain.Wallet, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if w, ok := m.db.wallets[userID]; ok {
		c := *w
		return &c, nil
	}
	u, ok := m.db.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	w := &domain.Wallet{
		ID:             m.db.id(),
		UserID:         userID,
		CashBalance:    decimal.Zero,
		RewardsBalance: decimal.Zero,
		Currency:       u.Currency,
		CreatedAt:      time.Now(),
	}
	m.db.wallets[userID] = w
	m.db.walletsByID[w.ID] = w
	c := *w
	return &c, nil
}

// --- LedgerStore ---

type memLedger struct{ db *memDB }

func (m *memLedger) Append(_ context.Context, draft domain.TransactionDraft) (*domain.Transaction, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	tx := &domain.Transaction{
		ID:          m.db.id(),
		UserID:      draft.UserID,
		WalletID:    draft.WalletID,
		Type:        draft.Type,
		Amount:      draft.Amount,
		Currency:    draft.Currency,
		BalanceType: draft.BalanceType,
		Status:      domain.TxPending,
		Reference:   draft.Reference,
		Metadata:    draft.Metadata,
		CreatedAt:   time.Now(),
	}
	m.db.txs[tx.ID] = tx
	return copyTx(tx), nil
}

func (m *memLedger) Settle(_ context.Context, txID int64, outcome domain.TransactionStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	tx, ok := m.db.txs[txID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if tx.Status != domain.TxPending {
		return repository.ErrTransactionSettled
	}

	now := time.Now()
	if outcome == domain.TxFailed {
		tx.Status = domain.TxFailed
		tx.ProcessedAt = &now
		return nil
	}

	w := m.db.walletsByID[tx.WalletID]
	balance := &w.CashBalance
	if tx.BalanceType == domain.BalanceRewards {
		balance = &w.RewardsBalance
	}
	next := balance.Add(tx.Amount)
	if next.Sign() < 0 {
		tx.Status = domain.TxFailed
		tx.ProcessedAt = &now
		return repository.ErrInsufficientFunds
	}
	*balance = next
	w.LastTransactionAt = &now
	tx.Status = domain.TxCompleted
	tx.ProcessedAt = &now
	return nil
}

func (m *memLedger) GetBalance(_ context.Context, userID int64) (domain.Balance, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if w, ok := m.db.wallets[userID]; ok {
		return domain.Balance{Cash: w.CashBalance, Rewards: w.RewardsBalance, Currency: w.Currency}, nil
	}
	u, ok := m.db.users[userID]
	if !ok {
		return domain.Balance{}, repository.ErrUserNotFound
	}
	return domain.Balance{Cash: decimal.Zero, Rewards: decimal.Zero, Currency: u.Currency}, nil
}

func (m *memLedger) GetByID(_ context.Context, txID int64) (*domain.Transaction, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	tx, ok := m.db.txs[txID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	return copyTx(tx), nil
}

func (m *memLedger) ListByUserID(_ context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var result []*domain.Transaction
	for _, tx := range m.db.txs {
		if tx.UserID == userID {
			result = append(result, copyTx(tx))
		}
	}
	return result, nil
}

// --- IdempotencyGuard ---

type memGuard struct{ db *memDB }

func (m *memGuard) Claim(_ context.Context, key string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, exists := m.db.keys[key]; exists {
		return false, nil
	}
	m.db.keys[key] = 0
	return true, nil
}

func (m *memGuard) Bind(_ context.Context, key string, txID int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.keys[key] = txID
	return nil
}

func (m *memGuard) Release(_ context.Context, key string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if txID, bound := m.db.keys[key]; bound && txID == 0 {
		delete(m.db.keys, key)
	}
	return nil
}

func (m *memGuard) Lookup(_ context.Context, key string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.keys[key], nil
}

// --- ReferralStore ---

type memRefs struct{ db *memDB }

func (m *memRefs) Create(_ context.Context, ref *domain.Referral) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	pair := [2]int64{ref.ReferrerID, ref.RefereeID}
	if m.db.refPairs[pair] {
		return repository.ErrDuplicateReferral
	}
	ref.ID = m.db.id()
	ref.Status = domain.ReferralPending
	ref.RefereeInvestmentAmount = decimal.Zero
	ref.CreatedAt = time.Now()
	m.db.refPairs[pair] = true
	stored := *ref
	m.db.refs[ref.ID] = &stored
	if _, ok := m.db.refByReferee[ref.RefereeID]; !ok {
		m.db.refByReferee[ref.RefereeID] = ref.ID
	}
	return nil
}

func (m *memRefs) GetByID(_ context.Context, id int64) (*domain.Referral, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	ref, ok := m.db.refs[id]
	if !ok {
		return nil, repository.ErrReferralNotFound
	}
	return copyRef(ref), nil
}

func (m *memRefs) GetByReferee(_ context.Context, refereeID int64) (*domain.Referral, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	id, ok := m.db.refByReferee[refereeID]
	if !ok {
		return nil, repository.ErrReferralNotFound
	}
	return copyRef(m.db.refs[id]), nil
}

func (m *memRefs) AddInvestment(_ context.Context, id int64, amount decimal.Decimal) (*domain.Referral, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	ref, ok := m.db.refs[id]
	if !ok {
		return nil, repository.ErrReferralNotFound
	}
	ref.RefereeInvestmentAmount = ref.RefereeInvestmentAmount.Add(amount)
	return copyRef(ref), nil
}

func (m *memRefs) MarkRefereeApproved(_ context.Context, id int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if ref, ok := m.db.refs[id]; ok && ref.RefereeApprovedAt == nil {
		now := time.Now()
		ref.RefereeApprovedAt = &now
	}
	return nil
}

func (m *memRefs) TransitionStatus(_ context.Context, id int64, from, to domain.ReferralStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	ref, ok := m.db.refs[id]
	if !ok {
		return repository.ErrReferralNotFound
	}
	if ref.Status != from {
		return repository.ErrStaleReferralStatus
	}
	ref.Status = to
	now := time.Now()
	switch to {
	case domain.ReferralQualified:
		ref.QualifiedAt = &now
	case domain.ReferralRewarded:
		ref.RewardedAt = &now
	}
	return nil
}

func (m *memRefs) StatsByReferrer(_ context.Context, referrerID int64) (domain.ReferralStats, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	stats := domain.ReferralStats{TotalEarned: decimal.Zero}
	for _, ref := range m.db.refs {
		if ref.ReferrerID != referrerID {
			continue
		}
		stats.TotalReferred++
		if ref.Status != domain.ReferralPending {
			stats.TotalInvested++
		}
		if ref.Status == domain.ReferralRewarded {
			stats.TotalEarned = stats.TotalEarned.Add(ref.ReferrerReward)
		}
	}
	return stats, nil
}

func (m *memRefs) ListByReferrer(_ context.Context, referrerID int64) ([]*domain.Referral, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var result []*domain.Referral
	for _, ref := range m.db.refs {
		if ref.ReferrerID == referrerID {
			result = append(result, copyRef(ref))
		}
	}
	return result, nil
}

// newTestServices wires wallet and referral services over one memDB.
func newTestServices(db *memDB) (*WalletService, *ReferralService) {
	wallet := newWalletService(&memWallets{db}, &memLedger{db}, &memGuard{db})
	wallet.replayDelay = time.Millisecond
	referral := newReferralService(&memUsers{db}, &memRefs{db}, wallet, domain.DefaultRewardTable())
	return wallet, referral
}
