package keyd

import (
	"path/filepath"
	"testing"

	"github.com/tutu-network/agentcore/internal/domain"
)

func TestFixedPointArithmetic(t *testing.T) {
	sum, err := addFixed("0.60", "0.50")
	if err != nil {
		t.Fatal(err)
	}
	if sum != "1.10" {
		t.Fatalf("expected 1.10, got %s", sum)
	}

	exceeds, err := exceedsFixed("1.10", "1.00")
	if err != nil {
		t.Fatal(err)
	}
	if !exceeds {
		t.Fatal("expected 1.10 to exceed cap 1.00")
	}
}

func TestPolicyDailyCapMonotonicity(t *testing.T) {
	engine := NewPolicyEngine([]domain.PolicyRule{
		{ID: "r1", DailyCapUSD: "1.00", AllowedDestinations: []string{"0xabc"}},
	})

	counter := domain.DayCounter{Date: CurrentDay(), SpentFixed: "0"}
	if err := engine.Evaluate("0xabc", "0.60", counter); err != nil {
		t.Fatalf("expected first spend within cap, got %v", err)
	}

	counter.SpentFixed = "0.60"
	if err := engine.Evaluate("0xabc", "0.50", counter); err != domain.ErrPolicyDenied {
		t.Fatalf("expected ErrPolicyDenied once cumulative spend exceeds cap, got %v", err)
	}
}

func TestPolicyDestinationAllowlist(t *testing.T) {
	engine := NewPolicyEngine([]domain.PolicyRule{
		{ID: "r1", AllowedDestinations: []string{"0xabc"}},
	})
	counter := domain.DayCounter{Date: CurrentDay(), SpentFixed: "0"}

	if err := engine.Evaluate("0xabc", "", counter); err != nil {
		t.Fatalf("expected allowlisted destination to pass, got %v", err)
	}
	if err := engine.Evaluate("0xdead", "", counter); err != domain.ErrDestinationDenied {
		t.Fatalf("expected ErrDestinationDenied for non-allowlisted destination, got %v", err)
	}
}

func TestWalletLifecycle(t *testing.T) {
	dir := t.TempDir()
	master, err := LoadOrCreateMasterKey(dir, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(filepath.Join(dir, "keyd"), master)
	if err != nil {
		t.Fatal(err)
	}

	wallet, err := store.CreateWallet(domain.ChainETH, "primary")
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Address == "" || wallet.Address[:2] != "0x" {
		t.Fatalf("expected 0x-prefixed eth address, got %s", wallet.Address)
	}

	sig, err := store.Sign(wallet.ID, make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}

	if err := store.Delete(wallet.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(wallet.ID); err != domain.ErrWalletNotFound {
		t.Fatalf("expected ErrWalletNotFound after delete, got %v", err)
	}
}

func TestSOLWalletAddressEncoding(t *testing.T) {
	dir := t.TempDir()
	master, err := LoadOrCreateMasterKey(dir, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(filepath.Join(dir, "keyd"), master)
	if err != nil {
		t.Fatal(err)
	}

	wallet, err := store.CreateWallet(domain.ChainSOL, "sol-primary")
	if err != nil {
		t.Fatal(err)
	}
	if len(wallet.Address) < 32 {
		t.Fatalf("expected a base58-looking address, got %s", wallet.Address)
	}

	sig, err := store.Sign(wallet.ID, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
}

func TestDayCounterRollover(t *testing.T) {
	dir := t.TempDir()
	master, err := LoadOrCreateMasterKey(dir, "secret")
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(filepath.Join(dir, "keyd"), master)
	if err != nil {
		t.Fatal(err)
	}

	wallet, err := store.CreateWallet(domain.ChainETH, "w")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSpend(wallet.ID, "0.25"); err != nil {
		t.Fatal(err)
	}
	counter := store.DayCounterFor(wallet.ID)
	if counter.SpentFixed != "0.25" {
		t.Fatalf("expected 0.25, got %s", counter.SpentFixed)
	}

	// Simulate a stale prior-day counter: the store should roll it over
	// rather than carry the old spend forward.
	store.counters.Counters[wallet.ID] = domain.DayCounter{Date: "2000-01-01", SpentFixed: "999.00"}
	rolled := store.DayCounterFor(wallet.ID)
	if rolled.SpentFixed != "0" {
		t.Fatalf("expected rollover to reset spend, got %s", rolled.SpentFixed)
	}
}
