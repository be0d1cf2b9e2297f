package store

import (
	"context"
	"testing"
)

func TestInsertTask_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &Task{Title: "write docs"})
	if err != nil {
		t.Fatal(err)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("expected task to exist")
	}
	if task.Status != TaskPending {
		t.Errorf("expected status pending, got %q", task.Status)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("expected priority medium, got %q", task.Priority)
	}
	if len(task.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", task.Dependencies)
	}
}

func TestGetTask_Missing(t *testing.T) {
	s := newTestStore(t)

	task, err := s.GetTask(context.Background(), 999)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("expected nil for missing task, got %+v", task)
	}
}

func TestListTasks_PriorityOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, task := range []Task{
		{Title: "low", Priority: PriorityLow},
		{Title: "high", Priority: PriorityHigh},
		{Title: "medium-1", Priority: PriorityMedium},
		{Title: "medium-2", Priority: PriorityMedium},
	} {
		if _, err := s.InsertTask(ctx, &task); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := s.ListTasks(ctx, "", "", 100)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(tasks))
	for i, task := range tasks {
		got[i] = task.Title
	}
	want := []string{"high", "medium-1", "medium-2", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestUpdateTask_Partial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &Task{Title: "build feature", Description: "the details"})
	if err != nil {
		t.Fatal(err)
	}

	status := TaskInProgress
	updated, err := s.UpdateTask(ctx, id, TaskUpdate{Status: &status})
	if err != nil || !updated {
		t.Fatalf("expected update to succeed, got updated=%v err=%v", updated, err)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskInProgress {
		t.Errorf("expected status in_progress, got %q", task.Status)
	}
	if task.Description != "the details" {
		t.Errorf("expected description unchanged, got %q", task.Description)
	}

	deps := []int64{1, 2}
	updated, err = s.UpdateTask(ctx, id, TaskUpdate{Dependencies: &deps})
	if err != nil || !updated {
		t.Fatalf("expected update to succeed, got updated=%v err=%v", updated, err)
	}
	task, err = s.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.Dependencies) != 2 {
		t.Errorf("expected 2 dependencies, got %v", task.Dependencies)
	}

	updated, err = s.UpdateTask(ctx, 999, TaskUpdate{Status: &status})
	if err != nil || updated {
		t.Fatalf("expected update of missing task to report false, got updated=%v err=%v", updated, err)
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &Task{Title: "temp"})
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := s.DeleteTask(ctx, id)
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.DeleteTask(ctx, id)
	if err != nil || deleted {
		t.Fatalf("expected second delete to report missing, got deleted=%v err=%v", deleted, err)
	}
}

func TestNextTask_DependencyResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	schemaID, err := s.InsertTask(ctx, &Task{Title: "design schema", Status: TaskDone})
	if err != nil {
		t.Fatal(err)
	}
	apiID, err := s.InsertTask(ctx, &Task{Title: "build api", Dependencies: []int64{schemaID}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTask(ctx, &Task{Title: "ship", Dependencies: []int64{apiID}}); err != nil {
		t.Fatal(err)
	}

	// "build api" is ready: its only dependency is done. "ship" is not.
	next, err := s.NextTask(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.Title != "build api" {
		t.Fatalf("expected build api, got %+v", next)
	}
}

func TestNextTask_CrossSessionDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Dependency owned by another session still satisfies the check.
	depID, err := s.InsertTask(ctx, &Task{SessionID: "other", Title: "upstream", Status: TaskDone})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTask(ctx, &Task{SessionID: "mine", Title: "downstream", Dependencies: []int64{depID}}); err != nil {
		t.Fatal(err)
	}

	next, err := s.NextTask(ctx, "mine")
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.Title != "downstream" {
		t.Fatalf("expected downstream, got %+v", next)
	}
}

func TestNextTask_NothingActionable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertTask(ctx, &Task{Title: "blocked", Dependencies: []int64{12345}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTask(ctx, &Task{Title: "running", Status: TaskInProgress}); err != nil {
		t.Fatal(err)
	}

	next, err := s.NextTask(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("expected no actionable task, got %+v", next)
	}
}

func TestNextTask_PriorityFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertTask(ctx, &Task{Title: "routine", Priority: PriorityLow}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTask(ctx, &Task{Title: "urgent", Priority: PriorityHigh}); err != nil {
		t.Fatal(err)
	}

	next, err := s.NextTask(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.Title != "urgent" {
		t.Fatalf("expected urgent, got %+v", next)
	}
}

func TestTask_MalformedDependenciesDecodeEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &Task{Title: "legacy"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE tasks SET dependencies = 'not json' WHERE id = ?", id); err != nil {
		t.Fatal(err)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.Dependencies) != 0 {
		t.Errorf("expected malformed dependencies to decode empty, got %v", task.Dependencies)
	}

	// Malformed dependencies also never satisfy, never crash NextTask.
	next, err := s.NextTask(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != id {
		t.Fatalf("expected legacy task to be actionable, got %+v", next)
	}
}
