package routing

import (
	"context"
	"testing"

	"github.com/lumapart/raftengine/pkg/engine"
)

type fakeLocalLookup struct {
	engines map[PartitionKey]*engine.Engine
}

func (f *fakeLocalLookup) Lookup(key PartitionKey) (*engine.Engine, bool) {
	e, ok := f.engines[key]
	return e, ok
}

func TestPartitionKeyString(t *testing.T) {
	key := PartitionKey{Table: "orders", Partition: 3}
	if key.String() != "orders/3" {
		t.Errorf("unexpected string form: %s", key.String())
	}
}

func TestStaticTopologyOwnerLocalVsRemote(t *testing.T) {
	local := PartitionKey{Table: "orders", Partition: 0}
	remote := PartitionKey{Table: "orders", Partition: 1}
	topo := &StaticTopology{
		LocalAddr: "127.0.0.1:9091",
		Owners: map[PartitionKey]string{
			local:  "127.0.0.1:9091",
			remote: "127.0.0.1:9092",
		},
	}

	addr, isLocal, err := topo.Owner(local)
	if err != nil {
		t.Fatalf("Owner failed: %v", err)
	}
	if addr != "127.0.0.1:9091" || !isLocal {
		t.Errorf("expected local ownership, got addr=%s isLocal=%v", addr, isLocal)
	}

	addr, isLocal, err = topo.Owner(remote)
	if err != nil {
		t.Fatalf("Owner failed: %v", err)
	}
	if addr != "127.0.0.1:9092" || isLocal {
		t.Errorf("expected remote ownership, got addr=%s isLocal=%v", addr, isLocal)
	}
}

func TestStaticTopologyUnknownPartition(t *testing.T) {
	topo := &StaticTopology{Owners: map[PartitionKey]string{}}
	if _, _, err := topo.Owner(PartitionKey{Table: "orders", Partition: 9}); err == nil {
		t.Fatal("expected an error for an unknown partition")
	}
}

func TestRouterLocalDelegatesToLookup(t *testing.T) {
	key := PartitionKey{Table: "orders", Partition: 0}
	local := &fakeLocalLookup{engines: map[PartitionKey]*engine.Engine{}}
	router := New(local, &StaticTopology{}, nil)

	if _, ok := router.Local(key); ok {
		t.Error("expected no local engine for an unregistered key")
	}
}

func TestRouterDialReturnsLocalWithoutDialing(t *testing.T) {
	key := PartitionKey{Table: "orders", Partition: 0}
	topo := &StaticTopology{
		LocalAddr: "127.0.0.1:9091",
		Owners:    map[PartitionKey]string{key: "127.0.0.1:9091"},
	}
	router := New(&fakeLocalLookup{}, topo, nil)

	conn, isLocal, err := router.Dial(context.Background(), key)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if !isLocal || conn != nil {
		t.Errorf("expected a local result with a nil connection, got isLocal=%v conn=%v", isLocal, conn)
	}
}

func TestRouterDialPoolsRemoteConnections(t *testing.T) {
	key := PartitionKey{Table: "orders", Partition: 1}
	topo := &StaticTopology{
		LocalAddr: "127.0.0.1:9091",
		Owners:    map[PartitionKey]string{key: "127.0.0.1:9092"},
	}
	router := New(&fakeLocalLookup{}, topo, nil)
	defer router.Close()

	conn1, isLocal, err := router.Dial(context.Background(), key)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if isLocal || conn1 == nil {
		t.Fatalf("expected a remote connection, got isLocal=%v conn=%v", isLocal, conn1)
	}

	conn2, _, err := router.Dial(context.Background(), key)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if conn1 != conn2 {
		t.Error("expected the second Dial to reuse the pooled connection")
	}
}

func TestRouterDialUnknownPartition(t *testing.T) {
	router := New(&fakeLocalLookup{}, &StaticTopology{Owners: map[PartitionKey]string{}}, nil)
	if _, _, err := router.Dial(context.Background(), PartitionKey{Table: "orders", Partition: 9}); err == nil {
		t.Fatal("expected an error for an unresolvable partition")
	}
}
