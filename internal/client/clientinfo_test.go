package client

import (
	"encoding/hex"
	"testing"
)

func TestCollectClientInfo(t *testing.T) {
	info := CollectClientInfo()
	uid, err := hex.DecodeString(info.UID)
	if err != nil || len(uid) != 32 {
		t.Fatalf("uid %q is not a hex SHA-256", info.UID)
	}
	if info.UserAgent != UserAgent {
		t.Errorf("UserAgent = %q", info.UserAgent)
	}
	if info.PlatformName == "" || info.PlatformArch == "" {
		t.Errorf("platform fields empty: %+v", info)
	}
	if again := CollectClientInfo(); again.UID != info.UID {
		t.Errorf("uid not stable: %q vs %q", info.UID, again.UID)
	}
}
