package store

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/prismworks/easel/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// checkInvariants asserts the two collection invariants: never empty, and
// exactly one member matching the current id.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	sessions := s.Sessions()
	if len(sessions) == 0 {
		t.Fatal("session collection is empty")
	}
	current := 0
	for _, sess := range sessions {
		if sess.ID == s.CurrentID() {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("sessions matching current id = %d, want 1", current)
	}
}

func TestNewStartsWithOneSession(t *testing.T) {
	s := newTestStore(t)

	checkInvariants(t, s)
	sess := s.Current()
	if sess.Title != "" {
		t.Errorf("Title = %q, want empty until first user message", sess.Title)
	}
	if sess.AspectRatio != models.DefaultAspectRatio {
		t.Errorf("AspectRatio = %q, want %q", sess.AspectRatio, models.DefaultAspectRatio)
	}
	if sess.ImageCount != models.DefaultImageCount {
		t.Errorf("ImageCount = %d, want %d", sess.ImageCount, models.DefaultImageCount)
	}
}

func TestCreateSessionBecomesCurrent(t *testing.T) {
	s := newTestStore(t)
	first := s.CurrentID()

	sess := s.CreateSession()
	if s.CurrentID() != sess.ID {
		t.Errorf("CurrentID() = %q, want new session %q", s.CurrentID(), sess.ID)
	}
	if sess.ID == first {
		t.Error("CreateSession() returned the pre-existing session")
	}
	checkInvariants(t, s)
}

func TestDeleteCurrentReassigns(t *testing.T) {
	s := newTestStore(t)
	s.CreateSession()
	s.CreateSession()
	doomed := s.CurrentID()

	s.DeleteSession(doomed)

	checkInvariants(t, s)
	if s.CurrentID() == doomed {
		t.Error("current id still points at the deleted session")
	}
}

func TestDeleteLastSessionCreatesFresh(t *testing.T) {
	s := newTestStore(t)
	only := s.CurrentID()

	s.DeleteSession(only)

	checkInvariants(t, s)
	if len(s.Sessions()) != 1 {
		t.Fatalf("len(Sessions()) = %d, want 1", len(s.Sessions()))
	}
	if s.CurrentID() == only {
		t.Error("replacement session reused the deleted id")
	}
}

func TestCreateDeleteSequencesKeepInvariants(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		s.CreateSession()
		checkInvariants(t, s)
	}
	for i := 0; i < 10; i++ {
		// Alternate between deleting the current session and an arbitrary
		// other one.
		id := s.CurrentID()
		if i%2 == 1 {
			id = s.Sessions()[len(s.Sessions())-1].ID
		}
		s.DeleteSession(id)
		checkInvariants(t, s)
	}
}

func TestSelectSession(t *testing.T) {
	s := newTestStore(t)
	first := s.CurrentID()
	s.CreateSession()

	s.SelectSession(first)
	if s.CurrentID() != first {
		t.Errorf("CurrentID() = %q, want %q", s.CurrentID(), first)
	}
	checkInvariants(t, s)
}

func TestSelectUnknownSessionIsNoOp(t *testing.T) {
	s := newTestStore(t)
	before := s.CurrentID()

	s.SelectSession("no-such-id")

	if s.CurrentID() != before {
		t.Errorf("CurrentID() = %q, want unchanged %q", s.CurrentID(), before)
	}
}

func TestTitleFromFirstTextMessage(t *testing.T) {
	s := newTestStore(t)

	s.AppendUserMessage(models.NewUserMessage("a red chair", nil))
	if got := s.Current().Title; got != "a red chair" {
		t.Errorf("Title = %q, want %q", got, "a red chair")
	}

	s.AppendUserMessage(models.NewUserMessage("a blue chair", nil))
	if got := s.Current().Title; got != "a red chair" {
		t.Errorf("Title = %q, want first-write-wins", got)
	}
}

func TestTitleTruncation(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("a", titleLimit+20)

	s.AppendUserMessage(models.NewUserMessage(long, nil))

	got := s.Current().Title
	if want := strings.Repeat("a", titleLimit) + "..."; got != want {
		t.Errorf("Title = %q, want %d-char prefix plus ellipsis", got, titleLimit)
	}
}

func TestTitleFromBareUpload(t *testing.T) {
	s := newTestStore(t)
	att := models.ImageAttachment{MIMEType: "image/png", Data: "cGl4"}

	s.AppendUserMessage(models.NewUserMessage("", []models.ImageAttachment{att}))

	if got := s.Current().Title; got != uploadTitle {
		t.Errorf("Title = %q, want %q", got, uploadTitle)
	}
}

func TestAppendAIMessageFillsGallery(t *testing.T) {
	s := newTestStore(t)
	images := []models.GeneratedImage{
		models.NewGeneratedImage("YQ==", "a red chair"),
		models.NewGeneratedImage("Yg==", "a red chair"),
	}

	s.AppendAIMessage(models.NewAIMessage("here you go", images))

	sess := s.Current()
	if len(sess.Gallery) != 2 {
		t.Fatalf("len(Gallery) = %d, want 2", len(sess.Gallery))
	}
	for i, img := range sess.Gallery {
		if img.ID != images[i].ID {
			t.Errorf("Gallery[%d].ID = %q, want %q", i, img.ID, images[i].ID)
		}
	}
}

func TestReferenceImageLifecycle(t *testing.T) {
	s := newTestStore(t)
	first := models.ImageAttachment{MIMEType: "image/png", Data: "YQ=="}
	second := models.ImageAttachment{MIMEType: "image/jpeg", Data: "Yg=="}

	s.SetReferenceImage(first)
	if got := s.Current().ReferenceImage; got == nil || got.Data != first.Data {
		t.Fatalf("ReferenceImage = %+v, want %+v", got, first)
	}

	// Replaced wholesale on new upload.
	s.SetReferenceImage(second)
	if got := s.Current().ReferenceImage; got == nil || got.MIMEType != "image/jpeg" {
		t.Fatalf("ReferenceImage = %+v, want replacement %+v", got, second)
	}

	s.ClearReferenceImage()
	if got := s.Current().ReferenceImage; got != nil {
		t.Errorf("ReferenceImage = %+v, want nil after clear", got)
	}
}

func TestSetSettings(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.SetSettings(models.RatioPortrait, 3)
	if err != nil {
		t.Fatalf("SetSettings() error = %v, want nil", err)
	}
	if sess.AspectRatio != models.RatioPortrait || sess.ImageCount != 3 {
		t.Errorf("settings = %q/%d, want %q/3", sess.AspectRatio, sess.ImageCount, models.RatioPortrait)
	}

	if _, err := s.SetSettings("2:3", 1); err == nil {
		t.Error("SetSettings() error = nil, want unsupported ratio failure")
	}
	if _, err := s.SetSettings(models.RatioSquare, 0); err == nil {
		t.Error("SetSettings() error = nil, want out-of-range count failure")
	}
}

func TestUpdateCurrentStampsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	before := s.Current().UpdatedAt

	sess := s.UpdateCurrent(func(sess *models.Session) {
		sess.Messages = append(sess.Messages, models.NewUserMessage("hi", nil))
	})

	if sess.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt = %v, want >= %v", sess.UpdatedAt, before)
	}
	if len(sess.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(sess.Messages))
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.AppendUserMessage(models.NewUserMessage("a red chair", nil))
	s.AppendAIMessage(models.NewAIMessage("done", []models.GeneratedImage{
		models.NewGeneratedImage("YQ==", "a red chair"),
	}))
	second := s.CreateSession()
	want := s.Sessions()
	wantCurrent := s.CurrentID()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("New() after close error = %v", err)
	}
	defer reopened.Close()

	got := reopened.Sessions()
	if len(got) != len(want) {
		t.Fatalf("len(Sessions()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("Sessions()[%d].ID = %q, want %q", i, got[i].ID, want[i].ID)
		}
		if got[i].Title != want[i].Title {
			t.Errorf("Sessions()[%d].Title = %q, want %q", i, got[i].Title, want[i].Title)
		}
		if len(got[i].Messages) != len(want[i].Messages) {
			t.Errorf("Sessions()[%d] messages = %d, want %d", i, len(got[i].Messages), len(want[i].Messages))
		}
		if len(got[i].Gallery) != len(want[i].Gallery) {
			t.Errorf("Sessions()[%d] gallery = %d, want %d", i, len(got[i].Gallery), len(want[i].Gallery))
		}
	}
	if reopened.CurrentID() != wantCurrent {
		t.Errorf("CurrentID() = %q, want %q", reopened.CurrentID(), wantCurrent)
	}
	if reopened.CurrentID() != second.ID {
		t.Errorf("CurrentID() = %q, want the last created session %q", reopened.CurrentID(), second.ID)
	}
}

func TestCorruptStateFallsBackToFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := openStateDB(path)
	if err != nil {
		t.Fatalf("openStateDB() error = %v", err)
	}
	err = db.setAll(map[string]string{
		keySessions:  "{this is not json",
		keyCurrentID: "whatever",
	})
	if err != nil {
		t.Fatalf("setAll() error = %v", err)
	}
	db.Close()

	s, err := New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v, corrupt state should be swallowed", err)
	}
	defer s.Close()

	checkInvariants(t, s)
	if len(s.Sessions()) != 1 {
		t.Errorf("len(Sessions()) = %d, want 1 fresh session", len(s.Sessions()))
	}
	if s.Sessions()[0].Title != "" {
		t.Errorf("Title = %q, want a fresh empty session", s.Sessions()[0].Title)
	}
}

func TestFindGalleryImage(t *testing.T) {
	s := newTestStore(t)
	img := models.NewGeneratedImage("YQ==", "a red chair")
	s.AppendAIMessage(models.NewAIMessage("done", []models.GeneratedImage{img}))

	got, ok := s.FindGalleryImage(img.ID)
	if !ok {
		t.Fatal("FindGalleryImage() ok = false, want true")
	}
	if got.Data != img.Data {
		t.Errorf("Data = %q, want %q", got.Data, img.Data)
	}

	if _, ok := s.FindGalleryImage("missing"); ok {
		t.Error("FindGalleryImage(missing) ok = true, want false")
	}
}
