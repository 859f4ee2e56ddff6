package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stringer/internal/config"
	"stringer/internal/db"
	"stringer/internal/domain"
	"stringer/internal/engine"
	"stringer/internal/migrate"
	"stringer/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Test Newsroom")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	now := eng.Now().UTC().Format(time.RFC3339)
	if err := eng.Repo.EnsureNewsroom(ctx, "nr-1", "Test Newsroom", now); err != nil {
		t.Fatalf("seed newsroom: %v", err)
	}
	seedUser(t, ctx, eng.Repo, "ed-1", "editor@test.example", "editor", "nr-1")
	seedUser(t, ctx, eng.Repo, "jo-1", "journalist@test.example", "journalist", "")
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedUser(t *testing.T, ctx context.Context, r repo.Repo, id, email, role, newsroomID string) {
	t.Helper()
	u := domain.User{
		ID:           id,
		Email:        email,
		Name:         id,
		Role:         role,
		PasswordHash: repo.HashSecret("password-" + id),
		CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	if newsroomID != "" {
		u.NewsroomID = &newsroomID
	}
	if err := r.InsertUser(ctx, u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func intPtr(v int) *int { return &v }

func createAssignment(t *testing.T, env testEnv, opts engine.AssignmentCreateOptions) domain.Assignment {
	t.Helper()
	if opts.NewsroomID == "" {
		opts.NewsroomID = "nr-1"
	}
	if opts.EditorID == "" {
		opts.EditorID = "ed-1"
	}
	if opts.JournalistID == "" {
		opts.JournalistID = "jo-1"
	}
	if opts.Title == "" {
		opts.Title = "City budget investigation"
	}
	if opts.ActorID == "" {
		opts.ActorID = "ed-1"
	}
	a, err := env.Engine.CreateAssignment(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}

func transition(t *testing.T, env testEnv, id, status, actor string) domain.Assignment {
	t.Helper()
	a, err := env.Engine.ChangeAssignmentStatus(env.Ctx, engine.StatusChangeOptions{ID: id, NewStatus: status, ActorID: actor})
	if err != nil {
		t.Fatalf("transition to %s: %v", status, err)
	}
	return a
}

func requestRevision(t *testing.T, env testEnv, id, notes string) (domain.Assignment, error) {
	t.Helper()
	return env.Engine.ChangeAssignmentStatus(env.Ctx, engine.StatusChangeOptions{
		ID:            id,
		NewStatus:     engine.StatusRevisionRequested,
		RevisionNotes: notes,
		ActorID:       "ed-1",
	})
}

func TestAssignmentLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 50000, KillFeePercentage: 25})
	if a.Status != engine.StatusAssigned {
		t.Fatalf("expected assigned, got %s", a.Status)
	}
	if a.MaxRevisions != engine.DefaultMaxRevisions {
		t.Fatalf("expected default revision budget, got %d", a.MaxRevisions)
	}

	a = transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	if a.StartedAt == nil {
		t.Fatalf("started_at not set")
	}
	a = transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")
	if a.SubmittedAt == nil {
		t.Fatalf("submitted_at not set")
	}
	a = transition(t, env, a.ID, engine.StatusApproved, "ed-1")
	if a.CompletedAt != nil {
		t.Fatalf("completed_at set before publish")
	}
	a = transition(t, env, a.ID, engine.StatusPublished, "ed-1")
	if a.PublishedAt == nil || a.CompletedAt == nil {
		t.Fatalf("publish milestones missing: completed=%v published=%v", a.CompletedAt, a.PublishedAt)
	}
	if *a.CompletedAt != *a.PublishedAt {
		t.Fatalf("completed_at %s != published_at %s", *a.CompletedAt, *a.PublishedAt)
	}

	events, err := env.Engine.Repo.ListTimeline(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	wantLabels := []string{"Assignment Created", "Work Started", "Draft Submitted", "Approved", "Published"}
	if len(events) != len(wantLabels) {
		t.Fatalf("expected %d events, got %d", len(wantLabels), len(events))
	}
	for i, want := range wantLabels {
		if events[i].Label != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, events[i].Label)
		}
	}

	payments, err := env.Engine.Repo.ListPayments(env.Ctx, repo.PaymentFilters{AssignmentID: a.ID})
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment intent, got %d", len(payments))
	}
	p := payments[0]
	if p.Type != "assignment" || p.Status != "release_triggered" {
		t.Fatalf("unexpected payment %s/%s", p.Type, p.Status)
	}
	if p.Amount != 50000 {
		t.Fatalf("expected amount 50000, got %d", p.Amount)
	}
	if p.PlatformFee != 2500 || p.NetAmount != 47500 {
		t.Fatalf("unexpected fee split: fee=%d net=%d", p.PlatformFee, p.NetAmount)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})

	cases := []struct {
		from []string
		to   string
	}{
		{nil, engine.StatusSubmitted},                              // assigned -> submitted skips in_progress
		{nil, engine.StatusApproved},                               // assigned -> approved
		{nil, engine.StatusAssigned},                               // self transition
		{[]string{engine.StatusInProgress}, engine.StatusApproved}, // in_progress -> approved
	}
	for _, tc := range cases {
		b := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})
		for _, s := range tc.from {
			transition(t, env, b.ID, s, "jo-1")
		}
		_, err := env.Engine.ChangeAssignmentStatus(env.Ctx, engine.StatusChangeOptions{ID: b.ID, NewStatus: tc.to, ActorID: "ed-1"})
		var te *engine.InvalidTransitionError
		if !errors.As(err, &te) {
			t.Fatalf("transition to %s after %v: expected InvalidTransitionError, got %v", tc.to, tc.from, err)
		}
	}

	// Terminal states reject everything, including themselves.
	transition(t, env, a.ID, engine.StatusKilled, "ed-1")
	for _, to := range []string{engine.StatusInProgress, engine.StatusKilled, engine.StatusPublished} {
		_, err := env.Engine.ChangeAssignmentStatus(env.Ctx, engine.StatusChangeOptions{ID: a.ID, NewStatus: to, ActorID: "ed-1"})
		var te *engine.InvalidTransitionError
		if !errors.As(err, &te) {
			t.Fatalf("killed -> %s: expected InvalidTransitionError, got %v", to, err)
		}
	}
}

func TestRevisionBudget(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000, MaxRevisions: intPtr(2)})
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")

	a, err := requestRevision(t, env, a.ID, "tighten the lede")
	if err != nil {
		t.Fatalf("first revision: %v", err)
	}
	if a.RevisionCount != 1 {
		t.Fatalf("expected revision_count 1, got %d", a.RevisionCount)
	}
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")

	a, err = requestRevision(t, env, a.ID, "second source for the claim in graf 4")
	if err != nil {
		t.Fatalf("second revision: %v", err)
	}
	if a.RevisionCount != 2 {
		t.Fatalf("expected revision_count 2, got %d", a.RevisionCount)
	}
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")

	// Budget exhausted: a third request fails with the dedicated error.
	_, err = requestRevision(t, env, a.ID, "one more pass")
	if !errors.Is(err, engine.ErrRevisionBudgetExceeded) {
		t.Fatalf("expected ErrRevisionBudgetExceeded, got %v", err)
	}

	// Approval is still allowed at the cap.
	a = transition(t, env, a.ID, engine.StatusApproved, "ed-1")
	if a.Status != engine.StatusApproved {
		t.Fatalf("expected approved at cap, got %s", a.Status)
	}
}

func TestZeroRevisionBudget(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000, MaxRevisions: intPtr(0)})
	if a.MaxRevisions != 0 {
		t.Fatalf("explicit zero budget coerced to %d", a.MaxRevisions)
	}
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")

	_, err := requestRevision(t, env, a.ID, "no budget for this")
	if !errors.Is(err, engine.ErrRevisionBudgetExceeded) {
		t.Fatalf("expected ErrRevisionBudgetExceeded, got %v", err)
	}
	a = transition(t, env, a.ID, engine.StatusApproved, "ed-1")
	if a.Status != engine.StatusApproved {
		t.Fatalf("expected approved, got %s", a.Status)
	}
}

func TestOptionalTextFieldsPersist(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})
	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("assignment without brief: %v", err)
	}
	if got.Brief != "" {
		t.Fatalf("expected empty brief, got %q", got.Brief)
	}

	w, err := env.Engine.CreatePitchWindow(env.Ctx, engine.PitchWindowCreateOptions{NewsroomID: "nr-1", Title: "Quick turnarounds"})
	if err != nil {
		t.Fatalf("create window: %v", err)
	}
	if _, err := env.Engine.SetPitchWindowStatus(env.Ctx, w.ID, engine.WindowOpen); err != nil {
		t.Fatalf("open window: %v", err)
	}
	p, err := env.Engine.CreatePitch(env.Ctx, engine.PitchCreateOptions{WindowID: w.ID, JournalistID: "jo-1", Headline: "No summary yet"})
	if err != nil {
		t.Fatalf("pitch without summary: %v", err)
	}
	stored, err := env.Engine.Repo.GetPitch(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Summary != "" {
		t.Fatalf("expected empty summary, got %q", stored.Summary)
	}
}

func TestRevisionRequiresNotes(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")

	before, err := env.Engine.Repo.CountTimelineEvents(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, notes := range []string{"", "   "} {
		_, err := requestRevision(t, env, a.ID, notes)
		var ie *engine.InvalidInputError
		if !errors.As(err, &ie) {
			t.Fatalf("notes %q: expected InvalidInputError, got %v", notes, err)
		}
	}
	after, err := env.Engine.Repo.CountTimelineEvents(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("rejected revision wrote timeline events: %d -> %d", before, after)
	}
	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != engine.StatusSubmitted || got.RevisionCount != 0 {
		t.Fatalf("rejected revision mutated assignment: %s count=%d", got.Status, got.RevisionCount)
	}
}

func TestMilestoneTimestampsSetOnce(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.Engine.Now = func() time.Time {
		calls++
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(calls) * time.Hour)
	}
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	a = transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")
	firstSubmitted := *a.SubmittedAt

	if _, err := requestRevision(t, env, a.ID, "recheck the numbers"); err != nil {
		t.Fatalf("revision: %v", err)
	}
	a = transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")
	if *a.SubmittedAt != firstSubmitted {
		t.Fatalf("submitted_at overwritten on resubmit: %s != %s", *a.SubmittedAt, firstSubmitted)
	}

	transition(t, env, a.ID, engine.StatusApproved, "ed-1")
	a = transition(t, env, a.ID, engine.StatusPublished, "ed-1")
	if a.CompletedAt == nil || a.PublishedAt == nil || *a.CompletedAt != *a.PublishedAt {
		t.Fatalf("publish must stamp completed_at and published_at together: completed=%v published=%v", a.CompletedAt, a.PublishedAt)
	}
}

func TestKillFeePayment(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000, KillFeePercentage: 25})
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	transition(t, env, a.ID, engine.StatusKilled, "ed-1")

	payments, err := env.Engine.Repo.ListPayments(env.Ctx, repo.PaymentFilters{AssignmentID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one kill fee intent, got %d", len(payments))
	}
	p := payments[0]
	if p.Type != "kill_fee" || p.Amount != 250 {
		t.Fatalf("expected kill_fee of 250, got %s/%d", p.Type, p.Amount)
	}
	if p.Status != "release_triggered" {
		t.Fatalf("expected release_triggered, got %s", p.Status)
	}
}

func TestKillFromEveryNonTerminalStatus(t *testing.T) {
	env := newTestEnv(t)
	paths := [][]string{
		{},
		{engine.StatusInProgress},
		{engine.StatusInProgress, engine.StatusSubmitted},
		{engine.StatusInProgress, engine.StatusSubmitted, engine.StatusApproved},
	}
	for _, path := range paths {
		a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 2000, KillFeePercentage: 50})
		for _, s := range path {
			transition(t, env, a.ID, s, "jo-1")
		}
		got := transition(t, env, a.ID, engine.StatusKilled, "ed-1")
		if got.Status != engine.StatusKilled || got.CompletedAt == nil {
			t.Fatalf("kill after %v: status=%s completed_at=%v", path, got.Status, got.CompletedAt)
		}
	}
}

func TestPatchAssignment(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 1000})

	title := "Updated title"
	rate := int64(2000)
	patched, err := env.Engine.PatchAssignment(env.Ctx, engine.AssignmentPatchOptions{ID: a.ID, Title: &title, AgreedRate: &rate, ActorID: "ed-1"})
	if err != nil {
		t.Fatalf("patch while assigned: %v", err)
	}
	if patched.Title != title || patched.AgreedRate != 2000 {
		t.Fatalf("patch not applied: %+v", patched)
	}

	// Terms lock once work starts; editorial fields stay open.
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	_, err = env.Engine.PatchAssignment(env.Ctx, engine.AssignmentPatchOptions{ID: a.ID, AgreedRate: &rate, ActorID: "ed-1"})
	var ie *engine.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected locked terms error, got %v", err)
	}
	brief := "New brief"
	if _, err := env.Engine.PatchAssignment(env.Ctx, engine.AssignmentPatchOptions{ID: a.ID, Brief: &brief, ActorID: "ed-1"}); err != nil {
		t.Fatalf("brief patch after start: %v", err)
	}

	// Terminal assignments reject all edits.
	transition(t, env, a.ID, engine.StatusKilled, "ed-1")
	_, err = env.Engine.PatchAssignment(env.Ctx, engine.AssignmentPatchOptions{ID: a.ID, Brief: &brief, ActorID: "ed-1"})
	var te *engine.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected terminal edit rejection, got %v", err)
	}
}

func TestPaymentPipeline(t *testing.T) {
	env := newTestEnv(t)
	a := createAssignment(t, env, engine.AssignmentCreateOptions{AgreedRate: 10000})
	transition(t, env, a.ID, engine.StatusInProgress, "jo-1")
	transition(t, env, a.ID, engine.StatusSubmitted, "jo-1")
	transition(t, env, a.ID, engine.StatusApproved, "ed-1")
	transition(t, env, a.ID, engine.StatusPublished, "ed-1")

	payments, err := env.Engine.Repo.ListPayments(env.Ctx, repo.PaymentFilters{AssignmentID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	p := payments[0]

	p, err = env.Engine.SetPaymentStatus(env.Ctx, p.ID, "processing")
	if err != nil {
		t.Fatalf("to processing: %v", err)
	}
	p, err = env.Engine.SetPaymentStatus(env.Ctx, p.ID, "failed")
	if err != nil {
		t.Fatalf("to failed: %v", err)
	}
	// Failed payouts can be retried.
	p, err = env.Engine.SetPaymentStatus(env.Ctx, p.ID, "release_triggered")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := env.Engine.SetPaymentStatus(env.Ctx, p.ID, "completed"); err == nil {
		t.Fatalf("release_triggered -> completed should be rejected")
	}
	p, _ = env.Engine.SetPaymentStatus(env.Ctx, p.ID, "processing")
	p, err = env.Engine.SetPaymentStatus(env.Ctx, p.ID, "completed")
	if err != nil || p.Status != "completed" {
		t.Fatalf("to completed: %v", err)
	}
}

func TestPitchFlow(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreatePitchWindow(env.Ctx, engine.PitchWindowCreateOptions{
		NewsroomID:              "nr-1",
		Title:                   "Spring features",
		Beats:                   []string{"climate", "housing"},
		MaxPitchesPerJournalist: 1,
	})
	if err != nil {
		t.Fatalf("create window: %v", err)
	}

	// Submitting against a draft window fails.
	_, err = env.Engine.CreatePitch(env.Ctx, engine.PitchCreateOptions{WindowID: w.ID, JournalistID: "jo-1", Headline: "Early pitch", Submit: true})
	var ie *engine.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected closed-window error, got %v", err)
	}

	if _, err := env.Engine.SetPitchWindowStatus(env.Ctx, w.ID, engine.WindowOpen); err != nil {
		t.Fatalf("open window: %v", err)
	}
	p, err := env.Engine.CreatePitch(env.Ctx, engine.PitchCreateOptions{
		WindowID:     w.ID,
		JournalistID: "jo-1",
		Headline:     "Heat pumps in old housing stock",
		ProposedRate: 30000,
		Submit:       true,
	})
	if err != nil {
		t.Fatalf("submit pitch: %v", err)
	}
	if p.Status != engine.PitchSubmitted {
		t.Fatalf("expected submitted, got %s", p.Status)
	}

	// Per-journalist cap is enforced.
	_, err = env.Engine.CreatePitch(env.Ctx, engine.PitchCreateOptions{WindowID: w.ID, JournalistID: "jo-1", Headline: "Second pitch", Submit: true})
	if !errors.As(err, &ie) {
		t.Fatalf("expected pitch cap error, got %v", err)
	}

	if _, err := env.Engine.SetPitchStatus(env.Ctx, p.ID, engine.PitchUnderReview); err != nil {
		t.Fatalf("to under_review: %v", err)
	}
	a, err := env.Engine.AcceptPitch(env.Ctx, engine.AcceptPitchOptions{
		PitchID:           p.ID,
		EditorID:          "ed-1",
		KillFeePercentage: 25,
		ActorID:           "ed-1",
	})
	if err != nil {
		t.Fatalf("accept pitch: %v", err)
	}
	if a.AgreedRate != 30000 {
		t.Fatalf("expected proposed rate carried over, got %d", a.AgreedRate)
	}
	if a.PitchID == nil || *a.PitchID != p.ID {
		t.Fatalf("assignment not linked to pitch")
	}
	got, err := env.Engine.Repo.GetPitch(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != engine.PitchAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
	events, err := env.Engine.Repo.ListTimeline(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Label != "Assignment Created" {
		t.Fatalf("unexpected timeline after accept: %+v", events)
	}

	// A second accept of the same pitch is an invalid transition.
	_, err = env.Engine.AcceptPitch(env.Ctx, engine.AcceptPitchOptions{PitchID: p.ID, EditorID: "ed-1", ActorID: "ed-1"})
	var te *engine.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError on double accept, got %v", err)
	}
}

func TestCreateAssignmentValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.AssignmentCreateOptions{
		{NewsroomID: "nr-1", EditorID: "ed-1", JournalistID: "jo-1"},                                                 // missing title
		{NewsroomID: "nr-1", EditorID: "ed-1", JournalistID: "jo-1", Title: "x", AgreedRate: -1},                     // negative rate
		{NewsroomID: "nr-1", EditorID: "ed-1", JournalistID: "jo-1", Title: "x", KillFeePercentage: 101},             // pct over 100
		{NewsroomID: "nr-1", EditorID: "ed-1", JournalistID: "jo-1", Title: "x", MaxRevisions: intPtr(-1)},            // negative budget
		{NewsroomID: "", EditorID: "ed-1", JournalistID: "jo-1", Title: "x"},                                         // missing newsroom
	}
	for i, opts := range cases {
		opts.ActorID = "ed-1"
		_, err := env.Engine.CreateAssignment(env.Ctx, opts)
		var ie *engine.InvalidInputError
		if !errors.As(err, &ie) {
			t.Fatalf("case %d: expected InvalidInputError, got %v", i, err)
		}
	}
}
