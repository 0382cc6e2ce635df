package qdisp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/common"
)

func TestJobStatusCurrentDefaultsToProvision(t *testing.T) {
	s := NewJobStatus()
	require.Equal(t, Provision, s.Current())
}

func TestJobStatusCurrentTracksLatestUpdate(t *testing.T) {
	s := NewJobStatus()
	s.UpdateInfo(time.Now(), Request, common.CodeNone, "")
	s.UpdateInfo(time.Now(), ResponseData, common.CodeNone, "")
	require.Equal(t, ResponseData, s.Current())
}

func TestPhaseStringIsStable(t *testing.T) {
	require.Equal(t, "COMPLETE", Complete.String())
	require.Equal(t, "PROVISION_NACK", ProvisionNack.String())
}
