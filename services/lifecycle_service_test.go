package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

func TestLifecycle_StartCreatesInstance(t *testing.T) {
	setupTestDB(t)
	engine := &fakeEngine{}
	control := NewLifecycle(engine)
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	ok, msg := control.Start(1, challenge.ID)
	if !ok {
		t.Fatalf("Start failed: %s", msg)
	}

	inst := control.CurrentInstance(1)
	if inst == nil {
		t.Fatal("expected an instance after Start")
	}
	if inst.ChallengeID != challenge.ID {
		t.Errorf("instance bound to challenge %d, want %d", inst.ChallengeID, challenge.ID)
	}
	if !strings.HasPrefix(inst.Flag, "flag{") {
		t.Errorf("instance flag %q does not look generated", inst.Flag)
	}
	if len(engine.provisions) != 1 || engine.provisions[0] != inst.EngineKey() {
		t.Errorf("engine provisions = %v, want [%s]", engine.provisions, inst.EngineKey())
	}
}

func TestLifecycle_StartSameChallengeRestarts(t *testing.T) {
	setupTestDB(t)
	engine := &fakeEngine{}
	control := NewLifecycle(engine)
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("first Start failed: %s", msg)
	}
	first := control.CurrentInstance(1)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("second Start failed: %s", msg)
	}
	second := control.CurrentInstance(1)

	if first.UUID == second.UUID {
		t.Error("restart must create a fresh instance")
	}
	var count int64
	database.DB.Model(&models.Instance{}).Count(&count)
	if count != 1 {
		t.Errorf("expected one live instance, got %d", count)
	}
	if len(engine.teardowns) != 1 || engine.teardowns[0] != first.EngineKey() {
		t.Errorf("expected the old instance torn down, teardowns = %v", engine.teardowns)
	}
}

func TestLifecycle_StartCrossChallengeConflict(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	first := createTestChallenge(t, "web-baby", models.FlagModeDynamic)
	second := createTestChallenge(t, "pwn-heap", models.FlagModeDynamic)

	if ok, msg := control.Start(1, first.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	ok, msg := control.Start(1, second.ID)
	if ok {
		t.Fatal("cross-challenge Start must be rejected")
	}
	if !strings.Contains(msg, "web-baby") {
		t.Errorf("conflict message must name the occupying challenge, got %q", msg)
	}
	if inst := control.CurrentInstance(1); inst == nil || inst.ChallengeID != first.ID {
		t.Error("the original instance must survive a rejected Start")
	}
}

func TestLifecycle_StartGlobalCap(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if err := SetSetting("docker_max_container_count", "1"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	ok, msg := control.Start(2, challenge.ID)
	if ok {
		t.Fatal("Start beyond the global cap must fail")
	}
	if !strings.Contains(msg, "Max instance count") {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestLifecycle_StartProvisionFailureLeavesNoRecord(t *testing.T) {
	setupTestDB(t)
	engine := &fakeEngine{provisionErr: errors.New("no suitable node")}
	control := NewLifecycle(engine)
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	ok, msg := control.Start(1, challenge.ID)
	if ok {
		t.Fatal("Start must fail when provisioning fails")
	}
	if !strings.Contains(msg, "no suitable node") {
		t.Errorf("failure reason must surface, got %q", msg)
	}
	if inst := control.CurrentInstance(1); inst != nil {
		t.Error("a failed Start must not leave an instance record behind")
	}
	if len(engine.teardowns) != 1 {
		t.Errorf("partial provisioning must be torn down, teardowns = %v", engine.teardowns)
	}
}

func TestLifecycle_StartWithoutEngine(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(nil)

	ok, msg := control.Start(1, 1)
	if ok {
		t.Fatal("Start without a docker engine must fail")
	}
	if !strings.Contains(msg, "Docker engine is not available") {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestLifecycle_RenewCap(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if err := SetSetting("docker_max_renew_count", "2"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}

	for i := 0; i < 2; i++ {
		if ok, msg := control.Renew(1, challenge.ID); !ok {
			t.Fatalf("renewal %d failed: %s", i+1, msg)
		}
	}
	ok, msg := control.Renew(1, challenge.ID)
	if ok {
		t.Fatal("renewal beyond the cap must fail")
	}
	if !strings.Contains(msg, "Max renewal count") {
		t.Errorf("unexpected message: %q", msg)
	}
	if inst := control.CurrentInstance(1); inst.RenewCount != 2 {
		t.Errorf("renew count = %d, want 2", inst.RenewCount)
	}
}

func TestLifecycle_RenewResetsAge(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	stale := time.Now().Add(-50 * time.Minute)
	database.DB.Model(&models.Instance{}).Where("user_id = ?", 1).Update("start_time", stale)

	if ok, msg := control.Renew(1, challenge.ID); !ok {
		t.Fatalf("Renew failed: %s", msg)
	}
	inst := control.CurrentInstance(1)
	if time.Since(inst.StartTime) > time.Minute {
		t.Errorf("renewal must reset the age baseline, start_time is %v", inst.StartTime)
	}
}

func TestLifecycle_RenewWrongChallenge(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)
	other := createTestChallenge(t, "pwn-heap", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	if ok, _ := control.Renew(1, other.ID); ok {
		t.Error("renewing against the wrong challenge must fail")
	}
}

func TestLifecycle_RemoveMigratesSolvedFlag(t *testing.T) {
	setupTestDB(t)
	engine := &fakeEngine{}
	control := NewLifecycle(engine)
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	inst := control.CurrentInstance(1)
	sub := models.Submission{UserID: 1, ChallengeID: challenge.ID, SubmittedAt: time.Now()}
	if err := database.DB.Create(&sub).Error; err != nil {
		t.Fatalf("create submission: %v", err)
	}

	if ok, msg := control.Remove(1); !ok {
		t.Fatalf("Remove failed: %s", msg)
	}

	if control.CurrentInstance(1) != nil {
		t.Error("instance must be gone after Remove")
	}
	var record models.SolvedFlag
	if err := database.DB.Where("user_id = ? AND challenge_id = ?", 1, challenge.ID).First(&record).Error; err != nil {
		t.Fatalf("solved flag was not preserved: %v", err)
	}
	if record.Flag != inst.Flag {
		t.Errorf("preserved flag %q, want %q", record.Flag, inst.Flag)
	}
	if len(engine.teardowns) != 1 {
		t.Errorf("expected one teardown, got %v", engine.teardowns)
	}
}

func TestLifecycle_RemoveUnsolvedKeepsNoFlag(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	if ok, msg := control.Remove(1); !ok {
		t.Fatalf("Remove failed: %s", msg)
	}

	var count int64
	database.DB.Model(&models.SolvedFlag{}).Count(&count)
	if count != 0 {
		t.Errorf("unsolved instance must not leave a solved flag, found %d", count)
	}
}

func TestLifecycle_RemoveWithoutInstance(t *testing.T) {
	setupTestDB(t)
	control := NewLifecycle(&fakeEngine{})

	if ok, _ := control.Remove(1); ok {
		t.Error("Remove without an instance must fail")
	}
}

func TestLifecycle_RemoveByChallenge(t *testing.T) {
	setupTestDB(t)
	engine := &fakeEngine{}
	control := NewLifecycle(engine)
	challenge := createTestChallenge(t, "web-baby", models.FlagModeDynamic)
	other := createTestChallenge(t, "pwn-heap", models.FlagModeDynamic)

	if ok, msg := control.Start(1, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	if ok, msg := control.Start(2, challenge.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}
	if ok, msg := control.Start(3, other.ID); !ok {
		t.Fatalf("Start failed: %s", msg)
	}

	control.RemoveByChallenge(challenge.ID)

	if control.CurrentInstance(1) != nil || control.CurrentInstance(2) != nil {
		t.Error("all instances of the deleted challenge must be removed")
	}
	if control.CurrentInstance(3) == nil {
		t.Error("instances of other challenges must survive")
	}
}
