package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	f1, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f1.Close()

	f2, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if f2.TimestampMs <= f1.TimestampMs {
		t.Errorf("timestamps should advance, got %d then %d", f1.TimestampMs, f2.TimestampMs)
	}
	f2.Close()

	// Third read should fail (no loop)
	if _, err := cam.ReadFrame(); err == nil {
		t.Error("expected error after all frames consumed")
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
	if cam.Reads() != 5 {
		t.Errorf("Reads() = %d, want 5", cam.Reads())
	}
}

func TestMockCamera_ScriptedTimestamps(t *testing.T) {
	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.SetTimestamps(10, 10, 20)
	cam.Open()
	defer cam.Close()

	var got []int64
	for i := 0; i < 4; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(): %v", err)
		}
		got = append(got, f.TimestampMs)
		f.Close()
	}

	want := []int64{10, 10, 20, 120}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("read %d: timestamp = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMockCamera_OpenError(t *testing.T) {
	cam := NewMockCamera(nil, false)
	cam.SetOpenError(errors.New("permission denied"))

	if err := cam.Open(); err == nil {
		t.Fatal("expected open error")
	}
	if cam.IsOpen() {
		t.Error("camera should not be open after a failed Open")
	}
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("expected ErrCameraNotOpen, got %v", err)
	}
}
