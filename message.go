package main

const (
	MsgNoPlate = "No plate found. Try again with better focus or lighting."

	MsgPlateFound = "License plate recognized. Check the number before adding your car."

	MsgProcessingFailed = "Failed to process the image."

	MsgBusy = "The recognizer is busy. Please try again in a moment."
)
