package controlapi

import "testing"

func TestMsgpackCodecRoundTrip(t *testing.T) {
	c := msgpackCodec{}
	req := OpenRequest{Partition: PartitionRef{Table: "orders", Partition: 3}}

	raw, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got OpenRequest
	if err := c.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != req {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestMsgpackCodecName(t *testing.T) {
	if (msgpackCodec{}).Name() != "msgpack" {
		t.Errorf("unexpected codec name: %s", (msgpackCodec{}).Name())
	}
}
