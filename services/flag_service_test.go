package services

import (
	"strings"
	"testing"

	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

const testFlagTemplate = `flag{{"{"}}{{ uuid }}{{"}"}}`

func testInstance() *models.Instance {
	return &models.Instance{UserID: 1, ChallengeID: 1, UUID: utils.NewSuffix()}
}

func TestGenerateFlag_Dynamic(t *testing.T) {
	challenge := &models.Challenge{FlagMode: models.FlagModeDynamic}

	flag1, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	flag2, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}

	if !strings.HasPrefix(flag1, "flag{") || !strings.HasSuffix(flag1, "}") {
		t.Errorf("expected flag{...} wrapper, got %q", flag1)
	}
	if flag1 == flag2 {
		t.Errorf("two dynamic flags must differ, both were %q", flag1)
	}
}

func TestGenerateFlag_HalfDynamicSharesWrapperAndPrefix(t *testing.T) {
	challenge := &models.Challenge{
		FlagMode:         models.FlagModeHalfDynamic,
		FlagStaticPrefix: "warmup",
	}

	flag1, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	flag2, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}

	const wantPrefix = "flag{warmup_"
	if !strings.HasPrefix(flag1, wantPrefix) || !strings.HasPrefix(flag2, wantPrefix) {
		t.Fatalf("both flags must share prefix %q, got %q and %q", wantPrefix, flag1, flag2)
	}
	if !strings.HasSuffix(flag1, "}") || !strings.HasSuffix(flag2, "}") {
		t.Fatalf("flags must keep the closing wrapper, got %q and %q", flag1, flag2)
	}

	suffix1 := strings.TrimSuffix(strings.TrimPrefix(flag1, wantPrefix), "}")
	suffix2 := strings.TrimSuffix(strings.TrimPrefix(flag2, wantPrefix), "}")
	if len(suffix1) != 8 || len(suffix2) != 8 {
		t.Errorf("random suffix must be 8 chars, got %q and %q", suffix1, suffix2)
	}
	if suffix1 == suffix2 {
		t.Errorf("random suffixes must differ, both were %q", suffix1)
	}
}

func TestGenerateFlag_HalfDynamicPrefixNormalization(t *testing.T) {
	// 已带下划线的前缀不再追加
	challenge := &models.Challenge{
		FlagMode:         models.FlagModeHalfDynamic,
		FlagStaticPrefix: "pwn_",
	}
	flag, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	if strings.Contains(flag, "pwn__") {
		t.Errorf("prefix must end with a single underscore, got %q", flag)
	}
	if !strings.HasPrefix(flag, "flag{pwn_") {
		t.Errorf("expected flag{pwn_..., got %q", flag)
	}
}

func TestGenerateFlag_HalfDynamicEmptyPrefix(t *testing.T) {
	challenge := &models.Challenge{FlagMode: models.FlagModeHalfDynamic}
	flag, err := generateFlag(testFlagTemplate, testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(flag, "flag{"), "}")
	if len(payload) != 8 {
		t.Errorf("empty prefix must yield a bare 8-char payload, got %q", payload)
	}
}

func TestGenerateFlag_HalfDynamicNoBraces(t *testing.T) {
	challenge := &models.Challenge{
		FlagMode:         models.FlagModeHalfDynamic,
		FlagStaticPrefix: "web",
	}
	flag, err := generateFlag("token-", testInstance(), challenge)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	if !strings.HasPrefix(flag, "token-web_") {
		t.Errorf("payload must be appended verbatim without braces, got %q", flag)
	}
}

func TestGenerateFlag_HalfDynamicRejectsMultipleBraceRegions(t *testing.T) {
	challenge := &models.Challenge{FlagMode: models.FlagModeHalfDynamic}
	_, err := generateFlag("a{b}c{d}", testInstance(), challenge)
	if err == nil {
		t.Fatal("expected error for a template with multiple brace regions")
	}
}

func TestGenerateFlag_UnknownChallengeFallsBackToDynamic(t *testing.T) {
	flag, err := generateFlag(testFlagTemplate, testInstance(), nil)
	if err != nil {
		t.Fatalf("generateFlag failed: %v", err)
	}
	if !strings.HasPrefix(flag, "flag{") {
		t.Errorf("nil challenge must fall back to dynamic mode, got %q", flag)
	}
}

func TestGenerateFlag_InvalidTemplate(t *testing.T) {
	challenge := &models.Challenge{FlagMode: models.FlagModeDynamic}
	_, err := generateFlag("{{ uuid", testInstance(), challenge)
	if err == nil {
		t.Fatal("expected error for an unparsable template")
	}
}

func TestRenderTemplate_ExposesContainer(t *testing.T) {
	inst := testInstance()
	out, err := RenderTemplate("{{ .Container.UUID }}", inst)
	if err != nil {
		t.Fatalf("RenderTemplate failed: %v", err)
	}
	if out != inst.UUID {
		t.Errorf("expected %q, got %q", inst.UUID, out)
	}
}
