package main

const (
	MsgNotReady = "The analysis model is still loading. Please wait a moment and try again."

	MsgLoadFailed = "The analysis model could not be loaded. Use Retry to load it again."

	MsgNoImage = "Choose an image before running the analysis."

	MsgBusy = "An analysis is already running for this image."

	MsgSuperseded = "A new image was picked while the analysis was running. Run the analysis again."

	MsgLabelMismatch = "The model returned a different number of classes than configured labels. Unnamed classes are shown as \"Class N\"."
)
