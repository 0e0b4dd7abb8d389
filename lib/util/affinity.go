package util

import "runtime"

// GroupCPUs splits the CPUs of the machine into numGroups contiguous ranges
// and returns the range of group. This stands in for the CPU list of a NUMA node.
func GroupCPUs(group, numGroups int) []int {
	return groupCPUs(group, numGroups, runtime.NumCPU())
}

func groupCPUs(group, numGroups, numCPU int) []int {
	if numGroups <= 0 || group < 0 || group >= numGroups || numCPU <= 0 {
		return nil
	}
	if numGroups > numCPU {
		// more groups than CPUs, groups share CPUs
		return []int{group % numCPU}
	}
	per := numCPU / numGroups
	start := group * per
	end := start + per
	if group == numGroups-1 {
		end = numCPU
	}
	cpus := make([]int, 0, end-start)
	for c := start; c < end; c++ {
		cpus = append(cpus, c)
	}
	return cpus
}
