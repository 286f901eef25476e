// Package audio feeds audio samples into a GPU buffer once per frame.
//
// A capture goroutine owned by the audio side pulls sample chunks from a
// beep.Streamer (a WAV file, a looped clip, or any live source) and pushes
// them into a Handoff. Once per frame the Bridge drains whatever arrived,
// appends it to a rolling window and uploads the window into the audio
// buffer through the frame executor. The render loop never waits on audio:
// when nothing arrived the buffer keeps its previous contents and the
// caller gets a non-fatal gpucore.AudioStreamWarning.
//
// Samples are mono float32. Stereo sources are down-mixed by averaging the
// two channels.
package audio
