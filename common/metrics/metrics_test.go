package metrics

import (
	"runtime"
	"testing"
)

func TestGetSystemInfoPopulatesPlatformFields(t *testing.T) {
	info := GetSystemInfo()
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH || info.GoVersion != runtime.Version() {
		t.Fatalf("got %+v", info)
	}
	if info.CPULogical <= 0 {
		t.Fatalf("expected a positive logical CPU count, got %d", info.CPULogical)
	}
}

func TestGetSystemInfoIsCachedAcrossCalls(t *testing.T) {
	first := GetSystemInfo()
	second := GetSystemInfo()
	if first != second {
		t.Fatal("expected GetSystemInfo to return the same cached pointer")
	}
}

func TestSystemInfoToMap(t *testing.T) {
	info := &SystemInfo{OS: "linux", Arch: "amd64", Hostname: "h", CPUCores: 4, CPULogical: 8, TotalMemoryMB: 1024, GoVersion: "go1.23", InContainer: true, ContainerRuntime: "docker"}
	m := info.ToMap()
	if m["os"] != "linux" || m["container_runtime"] != "docker" || m["in_container"] != true {
		t.Fatalf("got %+v", m)
	}
}

func TestSystemInfoToMapOmitsEmptyContainerRuntime(t *testing.T) {
	info := &SystemInfo{OS: "linux"}
	m := info.ToMap()
	if _, ok := m["container_runtime"]; ok {
		t.Fatal("expected container_runtime to be omitted when empty")
	}
}

func TestRuntimeMetricsCaptureAndFinalize(t *testing.T) {
	rm := CaptureStart()
	if rm.MemoryStartMB < 0 || rm.GoroutineStart <= 0 {
		t.Fatalf("got %+v", rm)
	}

	rm.Finalize()
	if rm.MemoryPeakMB < rm.MemoryStartMB && rm.MemoryPeakMB < rm.MemoryEndMB {
		t.Fatalf("expected peak to track the larger of start/end, got %+v", rm)
	}

	m := rm.ToMap()
	if _, ok := m["memory_peak_mb"]; !ok {
		t.Fatalf("got %+v", m)
	}
}
