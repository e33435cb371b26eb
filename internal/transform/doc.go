// Package transform implements the joint image/keypoint augmentation
// pipeline injected into the dataset.
//
// A Pipeline composes geometric and photometric Ops over an (image,
// keypoints) pair and finishes by normalizing the image into a CHW float32
// tensor. Ops that exclude pixels, such as crops, also exclude the keypoints
// that fall outside the surviving window.
//
// Every Op reports which original keypoint indices survive it; Pipeline
// chains those reports so its caller can keep per-keypoint labels aligned
// without ever comparing coordinates.
//
// Randomized ops draw from an injected *rand.Rand, so a fixed seed replays
// the exact augmentation sequence.
package transform
