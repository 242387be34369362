package engine

import "testing"

func TestDeadlock(t *testing.T) {
	t.Run("Empty", testDeadlockEmpty)
	t.Run("OneEdge", testDeadlockOneEdge)
	t.Run("Simple", testDeadlockSimple)
	t.Run("DAGSmall", testDeadlockDAGSmall)
	t.Run("LongCycle", testDeadlockLongCycle)
	t.Run("RemoveTransaction", testDeadlockRemoveTransaction)
}

func testDeadlockEmpty(t *testing.T) {
	g := NewGraph()
	if g.DetectCycle() {
		t.Error("cycle detected in empty graph")
	}
}

func testDeadlockOneEdge(t *testing.T) {
	t1 := Transaction{}
	t2 := Transaction{}
	g := NewGraph()
	g.AddEdge(&t1, &t2)
	if g.DetectCycle() {
		t.Error("cycle detected in one edge graph")
	}
}

func testDeadlockSimple(t *testing.T) {
	t1 := Transaction{}
	t2 := Transaction{}
	g := NewGraph()
	g.AddEdge(&t1, &t2)
	g.AddEdge(&t2, &t1)
	if !g.DetectCycle() {
		t.Error("failed to detect cycle")
	}
}

func testDeadlockDAGSmall(t *testing.T) {
	t1 := Transaction{}
	t2 := Transaction{}
	t3 := Transaction{}
	g := NewGraph()
	g.AddEdge(&t1, &t2)
	g.AddEdge(&t1, &t3)
	g.AddEdge(&t2, &t3)
	if g.DetectCycle() {
		t.Error("cycle detected in DAG")
	}
}

func testDeadlockLongCycle(t *testing.T) {
	t1 := Transaction{}
	t2 := Transaction{}
	t3 := Transaction{}
	t4 := Transaction{}
	g := NewGraph()
	g.AddEdge(&t4, &t1)
	g.AddEdge(&t1, &t2)
	g.AddEdge(&t2, &t3)
	g.AddEdge(&t3, &t1)
	if !g.DetectCycle() {
		t.Error("failed to detect cycle not reachable from the first edge")
	}
}

func testDeadlockRemoveTransaction(t *testing.T) {
	t1 := Transaction{}
	t2 := Transaction{}
	g := NewGraph()
	g.AddEdge(&t1, &t2)
	g.AddEdge(&t2, &t1)
	g.RemoveTransaction(&t2)
	if g.DetectCycle() {
		t.Error("cycle survived removing one of its transactions")
	}
	if err := g.RemoveEdge(&t1, &t2); err == nil {
		t.Error("expected edge to be gone")
	}
}
