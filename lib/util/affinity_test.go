package util

import "testing"

func TestGroupCPUs(t *testing.T) {
	tests := []struct {
		group, groups, cpus int
		want                []int
	}{
		{0, 2, 4, []int{0, 1}},
		{1, 2, 4, []int{2, 3}},
		{1, 2, 5, []int{2, 3, 4}},
		{3, 4, 2, []int{1}},
		{2, 2, 4, nil},
	}
	for _, tt := range tests {
		got := groupCPUs(tt.group, tt.groups, tt.cpus)
		if len(got) != len(tt.want) {
			t.Errorf("groupCPUs(%d,%d,%d) = %v, want %v", tt.group, tt.groups, tt.cpus, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("groupCPUs(%d,%d,%d) = %v, want %v", tt.group, tt.groups, tt.cpus, got, tt.want)
				break
			}
		}
	}
}

func TestPinThreadRestores(t *testing.T) {
	release, err := PinThread(GroupCPUs(0, 1))
	if err != nil {
		t.Skipf("affinity not available: %v", err)
	}
	release()
}
