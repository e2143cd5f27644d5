package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crowdprop/internal/currency"
	"crowdprop/internal/domain"
	"crowdprop/internal/repository"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepositWithdraw_Scenario(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	if _, err := wallet.Deposit(ctx, u.ID, dec("100"), domain.CurrencyTND, "d1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	b, err := wallet.GetBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !b.Cash.Equal(dec("100")) {
		t.Fatalf("cash = %s, want 100", b.Cash)
	}

	if _, err := wallet.Withdraw(ctx, u.ID, dec("150"), domain.CurrencyTND, "w1"); !errors.Is(err, repository.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	b, _ = wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(dec("100")) {
		t.Fatalf("cash after failed withdraw = %s, want 100", b.Cash)
	}

	if _, err := wallet.Withdraw(ctx, u.ID, dec("100"), domain.CurrencyTND, "w2"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	b, _ = wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(decimal.Zero) {
		t.Fatalf("cash = %s, want 0", b.Cash)
	}
}

func TestDeposit_Validation(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	if _, err := wallet.Deposit(ctx, u.ID, dec("0"), domain.CurrencyTND, "r"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := wallet.Deposit(ctx, u.ID, dec("-5"), domain.CurrencyTND, "r"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := wallet.Deposit(ctx, u.ID, dec("10"), "GBP", "r"); !errors.Is(err, currency.ErrUnsupportedCurrency) {
		t.Fatalf("bad currency: got %v", err)
	}
}

func TestDeposit_ConvertsToWalletCurrency(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyEUR, "")
	ctx := context.Background()

	tx, err := wallet.Deposit(ctx, u.ID, dec("332"), domain.CurrencyTND, "d1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if tx.Currency != domain.CurrencyEUR {
		t.Fatalf("transaction currency = %s, want EUR", tx.Currency)
	}
	if !tx.Amount.Equal(dec("100")) {
		t.Fatalf("transaction amount = %s, want 100", tx.Amount)
	}

	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(dec("100")) || b.Currency != domain.CurrencyEUR {
		t.Fatalf("balance = %s %s, want 100 EUR", b.Cash, b.Currency)
	}
}

func TestWithdraw_ConcurrentNeverNegative(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	if _, err := wallet.Deposit(ctx, u.ID, dec("100"), domain.CurrencyTND, "seed"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var okCount int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wallet.Withdraw(ctx, u.ID, dec("30"), domain.CurrencyTND, fmt.Sprintf("w%d", i))
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			} else if !errors.Is(err, repository.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if okCount != 3 {
		t.Fatalf("successful withdrawals = %d, want 3", okCount)
	}
	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(dec("10")) {
		t.Fatalf("cash = %s, want 10", b.Cash)
	}
	if b.Cash.Sign() < 0 {
		t.Fatalf("balance went negative: %s", b.Cash)
	}
}

func TestCreditReward_Idempotent(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	first, err := wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_1", "referral:1:referrer")
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	second, err := wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_1", "referral:1:referrer")
	if err != nil {
		t.Fatalf("replayed credit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay returned a different transaction: %d vs %d", first.ID, second.ID)
	}

	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Rewards.Equal(dec("25")) {
		t.Fatalf("rewards = %s, want 25 (single delta)", b.Rewards)
	}

	completed := 0
	for _, tx := range db.txs {
		if tx.Status == domain.TxCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("completed transactions = %d, want 1", completed)
	}
}

func TestCreditReward_ConcurrentSameKey(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wallet.CreditReward(ctx, u.ID, dec("10"), domain.CurrencyTND, domain.TxReward, "BONUS_1", "bonus:1")
			if err != nil && !errors.Is(err, ErrRewardInFlight) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Rewards.Equal(dec("10")) {
		t.Fatalf("rewards = %s, want exactly one 10 credit", b.Rewards)
	}
}

// flakyLedger fails the first n Append calls with a storage error.
type flakyLedger struct {
	LedgerStore
	failures int
}

func (f *flakyLedger) Append(ctx context.Context, draft domain.TransactionDraft) (*domain.Transaction, error) {
	if f.failures > 0 {
		f.failures--
		return nil, repository.ErrStorageUnavailable
	}
	return f.LedgerStore.Append(ctx, draft)
}

// A credit whose ledger append fails must leave the key free so retrying the
// same credit executes it instead of waiting on a claim that wrote nothing.
func TestCreditReward_RetryableAfterAppendFailure(t *testing.T) {
	db := newMemDB()
	wallet := newWalletService(&memWallets{db}, &flakyLedger{LedgerStore: &memLedger{db}, failures: 1}, &memGuard{db})
	wallet.replayDelay = time.Millisecond
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	_, err := wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_1", "referral:1:referrer")
	if !errors.Is(err, repository.ErrStorageUnavailable) {
		t.Fatalf("first credit: got %v, want storage error", err)
	}

	tx, err := wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_1", "referral:1:referrer")
	if err != nil {
		t.Fatalf("retried credit: %v", err)
	}
	if tx.Status != domain.TxCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Rewards.Equal(dec("25")) {
		t.Fatalf("rewards = %s, want 25", b.Rewards)
	}
}

// A key bound to a transaction the original caller never settled is finished
// by the replaying caller.
func TestCreditReward_ReplaySettlesPendingEntry(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	w, err := (&memWallets{db}).GetOrCreate(ctx, u.ID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	stale, err := (&memLedger{db}).Append(ctx, domain.TransactionDraft{
		UserID: u.ID, WalletID: w.ID, Type: domain.TxReferralBonus,
		Amount: dec("25"), Currency: domain.CurrencyTND, BalanceType: domain.BalanceRewards,
		Reference: "REF_1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	guard := &memGuard{db}
	if _, err := guard.Claim(ctx, "referral:1:referrer"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := guard.Bind(ctx, "referral:1:referrer", stale.ID); err != nil {
		t.Fatalf("bind: %v", err)
	}

	tx, err := wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_1", "referral:1:referrer")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if tx.ID != stale.ID {
		t.Fatalf("replay created a new transaction: %d vs %d", tx.ID, stale.ID)
	}
	if tx.Status != domain.TxCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Rewards.Equal(dec("25")) {
		t.Fatalf("rewards = %s, want 25", b.Rewards)
	}
}

func TestCreditReward_InvalidType(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")

	_, err := wallet.CreditReward(context.Background(), u.ID, dec("10"), domain.CurrencyTND, domain.TxDeposit, "r", "k")
	if !errors.Is(err, ErrInvalidRewardType) {
		t.Fatalf("expected ErrInvalidRewardType, got %v", err)
	}
}

// Balance invariant: each pool equals the sum of signed amounts of its
// completed transactions.
func TestBalanceMatchesCompletedTransactions(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	wallet.Deposit(ctx, u.ID, dec("500"), domain.CurrencyTND, "d1")
	wallet.Withdraw(ctx, u.ID, dec("120.50"), domain.CurrencyTND, "w1")
	wallet.Withdraw(ctx, u.ID, dec("1000"), domain.CurrencyTND, "w2") // fails
	wallet.RecordInvestmentDebit(ctx, u.ID, dec("200"), domain.CurrencyTND, "i1")
	wallet.CreditReward(ctx, u.ID, dec("25"), domain.CurrencyTND, domain.TxReferralBonus, "REF_9", "referral:9:referrer")

	cashSum := decimal.Zero
	rewardsSum := decimal.Zero
	for _, tx := range db.txs {
		if tx.Status != domain.TxCompleted {
			continue
		}
		if tx.BalanceType == domain.BalanceCash {
			cashSum = cashSum.Add(tx.Amount)
		} else {
			rewardsSum = rewardsSum.Add(tx.Amount)
		}
	}

	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(cashSum) {
		t.Fatalf("cash %s != completed sum %s", b.Cash, cashSum)
	}
	if !b.Rewards.Equal(rewardsSum) {
		t.Fatalf("rewards %s != completed sum %s", b.Rewards, rewardsSum)
	}
	if !b.Cash.Equal(dec("179.50")) {
		t.Fatalf("cash = %s, want 179.50", b.Cash)
	}
}

// A balance read never reflects a pending transaction.
func TestGetBalance_IgnoresPending(t *testing.T) {
	db := newMemDB()
	wallet, _ := newTestServices(db)
	u := db.addUser(domain.CurrencyTND, "")
	ctx := context.Background()

	w, err := (&memWallets{db}).GetOrCreate(ctx, u.ID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	ledger := &memLedger{db}
	if _, err := ledger.Append(ctx, domain.TransactionDraft{
		UserID: u.ID, WalletID: w.ID, Type: domain.TxDeposit,
		Amount: dec("999"), Currency: domain.CurrencyTND, BalanceType: domain.BalanceCash,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	b, _ := wallet.GetBalance(ctx, u.ID)
	if !b.Cash.Equal(decimal.Zero) {
		t.Fatalf("pending transaction leaked into balance: %s", b.Cash)
	}
}
