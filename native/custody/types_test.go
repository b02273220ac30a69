package custody

import (
	"errors"
	"math/big"
	"testing"
)

func TestStageFromCodeRejectsUnknownValues(t *testing.T) {
	for code := uint8(0); code <= uint8(StageCancelled); code++ {
		stage, err := StageFromCode(code)
		if err != nil {
			t.Fatalf("code %d: %v", code, err)
		}
		if uint8(stage) != code {
			t.Fatalf("code %d decoded to %d", code, stage)
		}
	}
	for _, code := range []uint8{uint8(StageCancelled) + 1, 42, 255} {
		if _, err := StageFromCode(code); !errors.Is(err, ErrInvalidStage) {
			t.Fatalf("code %d: want ErrInvalidStage, got %v", code, err)
		}
	}
}

func TestStageTerminal(t *testing.T) {
	terminal := map[Stage]bool{
		StageUninitialized:      false,
		StageFunded:             false,
		StageMatched:            false,
		StagePartiallyWithdrawn: false,
		StageSettled:            true,
		StageCancelled:          true,
	}
	for stage, want := range terminal {
		if got := stage.Terminal(); got != want {
			t.Fatalf("%s: Terminal() = %v, want %v", stage, got, want)
		}
	}
}

func TestNormalizeAsset(t *testing.T) {
	normalized, err := NormalizeAsset(Asset{Kind: AssetToken, Denom: " usdq "})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if normalized.Denom != "USDQ" {
		t.Fatalf("denom = %q, want USDQ", normalized.Denom)
	}

	for _, bad := range []Asset{
		{Kind: AssetNative, Denom: "X"},
		{Kind: AssetToken, Denom: "   "},
		{Kind: AssetNFT},
		{Kind: AssetKind(9), Denom: "X"},
	} {
		if _, err := NormalizeAsset(bad); !errors.Is(err, ErrInvalidAsset) {
			t.Fatalf("%v: want ErrInvalidAsset, got %v", bad, err)
		}
	}
}

func TestAssetKeyDistinguishesKinds(t *testing.T) {
	token := Asset{Kind: AssetToken, Denom: "RELIC"}
	nft := Asset{Kind: AssetNFT, Denom: "RELIC"}
	if string(token.Key()) == string(nft.Key()) {
		t.Fatal("token and nft share a storage key")
	}
}

func TestCloneIsolatesAmounts(t *testing.T) {
	rec := &Record{
		Asset:     Asset{Kind: AssetToken, Denom: "USDQ"},
		Amount:    big.NewInt(10),
		UnitPrice: big.NewInt(3),
	}
	clone := rec.Clone()
	clone.Amount.SetInt64(99)
	clone.UnitPrice.SetInt64(99)
	if rec.Amount.Int64() != 10 || rec.UnitPrice.Int64() != 3 {
		t.Fatal("clone aliased the original big.Ints")
	}
}

func TestSanitizeRecord(t *testing.T) {
	rec := &Record{
		Asset:  Asset{Kind: AssetToken, Denom: "usdq"},
		Policy: PolicyEscrow,
		Stage:  StageFunded,
	}
	sanitized, err := SanitizeRecord(rec)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Asset.Denom != "USDQ" {
		t.Fatalf("denom = %q", sanitized.Asset.Denom)
	}
	if sanitized.Amount == nil || sanitized.Amount.Sign() != 0 {
		t.Fatalf("amount not defaulted: %v", sanitized.Amount)
	}
	if rec.Asset.Denom != "usdq" {
		t.Fatal("sanitize mutated the input")
	}

	if _, err := SanitizeRecord(nil); err == nil {
		t.Fatal("nil record accepted")
	}
	if _, err := SanitizeRecord(&Record{Asset: Asset{Kind: AssetNative}, Policy: PolicyEscrow, Stage: Stage(77)}); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("bad stage: want ErrInvalidStage, got %v", err)
	}
	if _, err := SanitizeRecord(&Record{Asset: Asset{Kind: AssetNative}, Policy: PolicyEscrow, Amount: big.NewInt(-1)}); err == nil {
		t.Fatal("negative amount accepted")
	}
	if _, err := SanitizeRecord(&Record{Asset: Asset{Kind: AssetNative}, Policy: PolicyEscrow, FeeBps: 10_001}); err == nil {
		t.Fatal("fee bps out of range accepted")
	}
}
