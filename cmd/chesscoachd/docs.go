package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           chesscoachd API
// @version         1.0
// @description     HTTP API for chess network lifecycle management: prediction, commentary, training and checkpoints.
//
// @BasePath  /
//
// @schemes http
